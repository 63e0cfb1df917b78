package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mcp-core/internal/broker"
	"mcp-core/internal/message"
	"mcp-core/internal/queue"
	"mcp-core/internal/signal"
	"mcp-core/pkg/brokers/common"
	"mcp-core/pkg/brokers/paper"
	"mcp-core/pkg/config"
	"mcp-core/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func newPool(t *testing.T, userID string, adapters ...common.Adapter) *broker.Pool {
	t.Helper()
	p := broker.NewPool(nil, nil, broker.DefaultConfig(), zerolog.Nop())
	t.Cleanup(p.Stop)
	for _, a := range adapters {
		p.Register(userID, broker.TypePaper, a)
	}
	return p
}

func testSignal(symbol string) *signal.TradeSignal {
	now := time.Now()
	return &signal.TradeSignal{
		ID:         "sig-1",
		Symbol:     symbol,
		Side:       signal.SideBuy,
		Entry:      decimal.NewNullDecimal(decimal.RequireFromString("65000")),
		StopLoss:   decimal.NewNullDecimal(decimal.RequireFromString("64000")),
		TakeProfit: decimal.NewNullDecimal(decimal.RequireFromString("67000")),
		Status:     signal.StatusActive,
		MarketType: signal.ClassifyAssetClass(symbol),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type panicAdapter struct{ name string }

func (p panicAdapter) Name() string                      { return p.name }
func (p panicAdapter) IsConnected() bool                 { return true }
func (p panicAdapter) Connect(ctx context.Context) error { return nil }
func (p panicAdapter) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	panic("venue exploded")
}

type failingConnect struct{ *paper.Broker }

func (f failingConnect) Connect(ctx context.Context) error { return errors.New("auth failed") }

func TestScore(t *testing.T) {
	capability := &db.BrokerCapability{
		AssetClasses:   []string{"crypto"},
		ExecutionSpeed: 8,
		Commission:     3,
		Reliability:    9,
	}
	pref := &db.UserBrokerPreference{
		IsPrimary:             true,
		PreferredAssetClasses: []string{"Crypto"},
		Rating:                4,
	}

	tests := []struct {
		name  string
		class signal.AssetClass
		c     *db.BrokerCapability
		p     *db.UserBrokerPreference
		want  int
	}{
		{"nothing known", signal.AssetCrypto, nil, nil, 0},
		{"capability match", signal.AssetCrypto, capability, nil, 30 + 80 + 14 + 90},
		{"capability mismatch", signal.AssetForex, capability, nil, 80 + 14 + 90},
		{"preference only", signal.AssetCrypto, nil, pref, 50 + 20 + 20},
		{"everything", signal.AssetCrypto, capability, pref, 30 + 80 + 14 + 90 + 50 + 20 + 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.class, tt.c, tt.p); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRankKeepsInputOrderOnTies(t *testing.T) {
	if got := rank([]int{10, 40, 40, 5}); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}
}

func TestParseStrategy(t *testing.T) {
	for raw, want := range map[string]Strategy{"": StrategyAuto, "ALL": StrategyAll, " primary ": StrategyPrimary, "specific": StrategySpecific} {
		got, err := ParseStrategy(raw)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseStrategy("random"); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestAutoSelectsHighestScoringBroker(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)
	a := paper.New("broker-a", paper.Config{})
	b := paper.New("broker-b", paper.Config{})
	pool := newPool(t, "u1", b, a)

	for _, c := range []db.BrokerCapability{
		{BrokerID: "broker-a", BrokerType: "paper", AssetClasses: []string{"crypto"}, ExecutionSpeed: 9, Commission: 2, Reliability: 9},
		{BrokerID: "broker-b", BrokerType: "paper", AssetClasses: []string{"stocks"}, ExecutionSpeed: 6, Commission: 5, Reliability: 7},
	} {
		if err := store.UpsertBrokerCapability(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	r := New(pool, zerolog.Nop(), WithStore(store))
	res, err := r.RouteSignal(ctx, testSignal("BTCUSDT"), "u1", StrategyAuto)
	if err != nil {
		t.Fatalf("RouteSignal: %v", err)
	}
	if len(res.Targets) != 1 || res.Targets[0] != "broker-a" {
		t.Fatalf("expected only broker-a, got %v", res.Targets)
	}
	if len(res.Results) != 1 || !res.Results[0].Success {
		t.Fatalf("expected one successful result, got %+v", res.Results)
	}
	if len(a.Fills()) != 1 || len(b.Fills()) != 0 {
		t.Errorf("fills: a=%d b=%d", len(a.Fills()), len(b.Fills()))
	}
	if len(res.Candidates) != 2 {
		t.Errorf("expected 2 scored candidates, got %d", len(res.Candidates))
	}

	fill := a.Fills()[0].Request
	if !fill.Qty.Equal(decimal.NewFromInt(1)) || fill.Type != common.OrderTypeMarket || fill.Side != common.SideBuy {
		t.Errorf("unexpected order %+v", fill)
	}
	if fill.MarketType != "crypto" || !fill.StopLoss.Decimal.Equal(decimal.RequireFromString("64000")) {
		t.Errorf("order lost signal levels: %+v", fill)
	}
}

func TestAutoPreferenceOutweighsCapability(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)
	a := paper.New("broker-a", paper.Config{})
	b := paper.New("broker-b", paper.Config{})
	pool := newPool(t, "u1", a, b)

	profiles := []config.BrokerProfile{
		{ID: "broker-a", Type: "paper", AssetClasses: []string{"crypto"}, ExecutionSpeed: 7, Commission: 3, Reliability: 8},
		{ID: "broker-b", Type: "paper", AssetClasses: []string{"crypto"}, ExecutionSpeed: 6, Commission: 3, Reliability: 8},
	}
	if err := store.UpsertUserBrokerPreference(ctx, db.UserBrokerPreference{
		UserID: "u1", BrokerID: "broker-b", IsPrimary: true, Rating: 5,
	}); err != nil {
		t.Fatal(err)
	}

	r := New(pool, zerolog.Nop(), WithStore(store), WithProfiles(profiles))
	res, err := r.RouteSignal(ctx, testSignal("ETHUSDT"), "u1", StrategyAuto)
	if err != nil {
		t.Fatal(err)
	}
	if res.Targets[0] != "broker-b" {
		t.Errorf("expected broker-b, got %v", res.Targets)
	}
}

func TestAllStrategyIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)
	q := queue.NewManager(10)
	q.CreateQueue(message.QueueNotifications)

	pool := newPool(t, "u1",
		paper.New("ok-1", paper.Config{}),
		paper.New("bad", paper.Config{RejectSymbols: []string{"BTCUSDT"}}),
		paper.New("ok-2", paper.Config{}),
	)

	r := New(pool, zerolog.Nop(), WithStore(store), WithNotifications(q))
	res, err := r.RouteSignal(ctx, testSignal("BTCUSDT"), "u1", StrategyAll)
	if err != nil {
		t.Fatalf("RouteSignal should not fail on partial failure: %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	for i, want := range []string{"ok-1", "bad", "ok-2"} {
		if res.Results[i].BrokerID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, res.Results[i].BrokerID)
		}
	}
	if res.Succeeded() != 2 || res.Failed() != 1 {
		t.Errorf("expected 2 successes and 1 failure, got %d/%d", res.Succeeded(), res.Failed())
	}
	if res.Results[1].Success || res.Results[1].Error == "" {
		t.Errorf("failing broker should carry an error: %+v", res.Results[1])
	}

	if got := q.Size(message.QueueNotifications); got != 2 {
		t.Errorf("expected 2 execution alerts, got %d", got)
	}

	stored, err := store.ListRoutingResults(ctx, "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || len(stored[0].Outcomes) != 3 || stored[0].ID != res.ID {
		t.Fatalf("unexpected stored routing: %+v", stored)
	}
}

func TestPrimaryStrategy(t *testing.T) {
	ctx := context.Background()
	store := newTestDB(t)
	pool := newPool(t, "u1", paper.New("first", paper.Config{}), paper.New("second", paper.Config{}))
	r := New(pool, zerolog.Nop(), WithStore(store))

	res, err := r.RouteSignal(ctx, testSignal("EURUSD"), "u1", StrategyPrimary)
	if err != nil {
		t.Fatal(err)
	}
	if res.Targets[0] != "first" {
		t.Errorf("without preference expected first available, got %v", res.Targets)
	}

	if err := store.UpsertUserBrokerPreference(ctx, db.UserBrokerPreference{UserID: "u1", BrokerID: "second", IsPrimary: true}); err != nil {
		t.Fatal(err)
	}
	res, err = r.RouteSignal(ctx, testSignal("EURUSD"), "u1", StrategyPrimary)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Targets) != 1 || res.Targets[0] != "second" {
		t.Errorf("expected marked primary, got %v", res.Targets)
	}
}

func TestSpecificStrategy(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t, "u1", paper.New("alpha", paper.Config{}), paper.New("beta", paper.Config{}))
	r := New(pool, zerolog.Nop())

	sig := testSignal("AAPL")
	sig.TargetBroker = "beta"
	res, err := r.RouteSignal(ctx, sig, "u1", StrategySpecific)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Targets) != 1 || res.Targets[0] != "beta" {
		t.Errorf("expected beta, got %v", res.Targets)
	}

	sig.TargetBroker = "gamma"
	if _, err := r.RouteSignal(ctx, sig, "u1", StrategySpecific); !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("expected ErrBrokerUnavailable, got %v", err)
	}
}

func TestNoAvailableBrokers(t *testing.T) {
	ctx := context.Background()
	offline := failingConnect{paper.New("offline", paper.Config{})}
	pool := newPool(t, "u1", offline)
	r := New(pool, zerolog.Nop())

	if _, err := r.RouteSignal(ctx, testSignal("BTCUSDT"), "u1", StrategyAll); !errors.Is(err, ErrNoAvailableBrokers) {
		t.Errorf("expected ErrNoAvailableBrokers for unconnectable broker, got %v", err)
	}
	if _, err := r.RouteSignal(ctx, testSignal("BTCUSDT"), "nobody", StrategyAuto); !errors.Is(err, ErrNoAvailableBrokers) {
		t.Errorf("expected ErrNoAvailableBrokers for unknown user, got %v", err)
	}
}

func TestSubmissionPanicIsCaptured(t *testing.T) {
	pool := newPool(t, "u1", panicAdapter{name: "boom"}, paper.New("fine", paper.Config{}))
	r := New(pool, zerolog.Nop())

	res, err := r.RouteSignal(context.Background(), testSignal("BTCUSDT"), "u1", StrategyAll)
	if err != nil {
		t.Fatal(err)
	}
	if res.Results[0].Success || res.Results[0].Error == "" {
		t.Errorf("panicking broker should fail: %+v", res.Results[0])
	}
	if !res.Results[1].Success {
		t.Errorf("sibling broker should succeed: %+v", res.Results[1])
	}
	if res.ID == "" {
		t.Error("result id should be assigned without a store")
	}
}
