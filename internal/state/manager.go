// Package state keeps the in-memory views of the control plane: the latest
// market snapshot per symbol, the latest state per user and the cache of
// active trade signals.
package state

import (
	"time"

	"github.com/shopspring/decimal"

	"mcp-core/pkg/cache"
)

// MarketSnapshot is the latest known market data for a symbol.
type MarketSnapshot struct {
	Symbol string              `json:"symbol"`
	Price  decimal.NullDecimal `json:"price"`
	Data   map[string]any      `json:"data,omitempty"`
}

// UserState is the latest known activity of a user.
type UserState struct {
	UserID     string         `json:"userId"`
	LastAction string         `json:"lastAction"`
	Data       map[string]any `json:"data,omitempty"`
}

// Manager holds the market and user state maps. Only the latest value is
// kept; there is no history.
type Manager struct {
	markets *cache.Sharded[MarketSnapshot]
	users   *cache.Sharded[UserState]
}

func NewManager() *Manager {
	return &Manager{
		markets: cache.NewSharded[MarketSnapshot](),
		users:   cache.NewSharded[UserState](),
	}
}

// SetMarket records the latest snapshot for a symbol.
func (m *Manager) SetMarket(s MarketSnapshot) {
	m.markets.Set(s.Symbol, s)
}

// Market returns the latest snapshot for symbol.
func (m *Manager) Market(symbol string) (cache.Entry[MarketSnapshot], bool) {
	return m.markets.Entry(symbol)
}

// Markets returns every market snapshot keyed by symbol.
func (m *Manager) Markets() map[string]cache.Entry[MarketSnapshot] {
	return m.markets.Snapshot()
}

// SetUser records the latest state of a user.
func (m *Manager) SetUser(u UserState) {
	m.users.Set(u.UserID, u)
}

// User returns the latest state of a user.
func (m *Manager) User(userID string) (cache.Entry[UserState], bool) {
	return m.users.Entry(userID)
}

// Users returns every user state keyed by user id.
func (m *Manager) Users() map[string]cache.Entry[UserState] {
	return m.users.Snapshot()
}

// RemoveUser drops a user's state, e.g. after disconnect.
func (m *Manager) RemoveUser(userID string) {
	m.users.Delete(userID)
}

// PruneMarkets drops market snapshots older than maxAge.
func (m *Manager) PruneMarkets(maxAge time.Duration) int {
	return m.markets.Cleanup(maxAge)
}

// Clear empties every map.
func (m *Manager) Clear() {
	m.markets.Clear()
	m.users.Clear()
}
