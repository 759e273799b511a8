package metrics

import (
	"errors"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	default:
		t.Fatalf("unsupported metric type")
		return 0
	}
}

func TestObserveLedgerCall(t *testing.T) {
	before := value(t, LedgerCallsTotal.WithLabelValues("buy", "EXPIRED"))
	ObserveLedgerCall("buy", "EXPIRED", time.Millisecond)
	after := value(t, LedgerCallsTotal.WithLabelValues("buy", "EXPIRED"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestObserveSettlementIgnoresEmptyAmounts(t *testing.T) {
	before := value(t, SettledVolume)
	ObserveSettlement(big.NewInt(60), nil)
	ObserveSettlement(nil, big.NewInt(0))
	if got := value(t, SettledVolume) - before; got != 60 {
		t.Fatalf("unexpected settled volume delta %v", got)
	}
}

func TestGaugesAndJournalCounter(t *testing.T) {
	SetActiveListings(3)
	if got := value(t, ActiveListings); got != 3 {
		t.Fatalf("unexpected active listings %v", got)
	}
	SetLedgerHalted(true)
	if got := value(t, LedgerHalted); got != 1 {
		t.Fatalf("halted gauge not set")
	}
	SetLedgerHalted(false)

	before := value(t, JournalAppends.WithLabelValues("error"))
	ObserveJournalAppend(errors.New("disk full"))
	if value(t, JournalAppends.WithLabelValues("error"))-before != 1 {
		t.Fatalf("journal error not counted")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	ObserveOperation("register", "applied")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agentmarket_operations_total") {
		t.Fatalf("operations counter missing from exposition")
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	if err := StartServer(t.Context(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
