package auction

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status 描述挂牌的生命周期状态。
type Status string

const (
	StatusActive    Status = "active"
	StatusBought    Status = "bought"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Listing 是一次荷兰式拍卖，价格随时间线性递减。
type Listing struct {
	ID            uint64         `json:"id"`
	AgentID       uint64         `json:"agent_id"`
	Seller        common.Address `json:"seller"`
	StartingPrice *big.Int       `json:"starting_price"`
	DiscountRate  *big.Int       `json:"discount_rate"`
	StartAt       int64          `json:"start_at"`
	ExpiresAt     int64          `json:"expires_at"`
	OnGoing       bool           `json:"on_going"`
	Status        Status         `json:"status"`
	ClosedAt      int64          `json:"closed_at,omitempty"`
	Buyer         common.Address `json:"buyer,omitempty"`
	SoldPrice     *big.Int       `json:"sold_price,omitempty"`
}

// Duration 返回挂牌时长（秒）。
func (l *Listing) Duration() int64 {
	return l.ExpiresAt - l.StartAt
}

// Expired 判断在 now 时刻挂牌是否已过期。ExpiresAt 当秒仍可成交。
func (l *Listing) Expired(now int64) bool {
	return now > l.ExpiresAt
}

// Active 判断挂牌在 now 时刻是否仍可报价与成交。
func (l *Listing) Active(now int64) bool {
	return l != nil && l.OnGoing && !l.Expired(now)
}

// PriceAt 计算 now 时刻的报价：起拍价减去折扣率乘以已流逝秒数，最低为 0。
func (l *Listing) PriceAt(now int64) *big.Int {
	elapsed := now - l.StartAt
	if elapsed < 0 {
		elapsed = 0
	}
	if d := l.Duration(); elapsed > d {
		elapsed = d
	}
	discount := new(big.Int).Mul(l.DiscountRate, big.NewInt(elapsed))
	price := new(big.Int).Sub(l.StartingPrice, discount)
	if price.Sign() < 0 {
		return new(big.Int)
	}
	return price
}

func (l *Listing) clone() *Listing {
	if l == nil {
		return nil
	}
	dup := *l
	dup.StartingPrice = copyInt(l.StartingPrice)
	dup.DiscountRate = copyInt(l.DiscountRate)
	dup.SoldPrice = copyInt(l.SoldPrice)
	return &dup
}

func (l *Listing) close(status Status, now int64) {
	l.OnGoing = false
	l.Status = status
	l.ClosedAt = now
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
