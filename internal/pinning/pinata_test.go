package pinning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "AgentMarket-Chain/internal/errors"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("pinata_api_key") != "key" || r.Header.Get("pinata_secret_api_key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		seen = append(seen, r.URL.Path)
		switch r.URL.Path {
		case "/pinning/pinFileToIPFS":
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("read form file: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			if header.Filename != "agent.tar" || string(data) != "image-bytes" {
				t.Errorf("unexpected upload %s %q", header.Filename, data)
			}
			_, _ = w.Write([]byte(`{"IpfsHash":"QmImage"}`))
		case "/pinning/pinJSONToIPFS":
			var body struct {
				PinataContent AgentMetadata `json:"pinataContent"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode json: %v", err)
			}
			if body.PinataContent.Docker != "https://gw.test/ipfs/QmImage" {
				t.Errorf("metadata should reference pinned image, got %+v", body.PinataContent)
			}
			_, _ = w.Write([]byte(`{"IpfsHash":"QmMeta"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestPinAgentPinsImageThenMetadata(t *testing.T) {
	srv, seen := newTestServer(t)
	client, err := NewPinataClient(Config{APIKey: "key", SecretKey: "secret", Endpoint: srv.URL, Gateway: "https://gw.test/ipfs"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	pinned, err := PinAgent(context.Background(), client, "trader", "does trades", "agent.tar", strings.NewReader("image-bytes"))
	if err != nil {
		t.Fatalf("pin agent: %v", err)
	}
	if pinned.CID != "QmMeta" || pinned.URL != "https://gw.test/ipfs/QmMeta" {
		t.Fatalf("unexpected result %+v", pinned)
	}
	if len(*seen) != 2 || (*seen)[0] != "/pinning/pinFileToIPFS" {
		t.Fatalf("unexpected call order %v", *seen)
	}
}

func TestPinataErrorsMapToPinFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	client, _ := NewPinataClient(Config{APIKey: "key", SecretKey: "wrong", Endpoint: srv.URL})

	_, err := client.PinJSON(context.Background(), "x", map[string]string{})
	if xerrors.CodeOf(err) != xerrors.CodePinFailure {
		t.Fatalf("expected pin failure, got %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("client errors should not be retryable")
	}
}

func TestNewPinataClientRequiresCredentials(t *testing.T) {
	if _, err := NewPinataClient(Config{APIKey: "key"}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
