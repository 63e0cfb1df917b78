package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mcp-core/internal/signal"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func mustDecimal(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func testSignal(id string) *signal.TradeSignal {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &signal.TradeSignal{
		ID:           id,
		Symbol:       "EURUSD",
		Side:         signal.SideBuy,
		Entry:        mustDecimal("1.08500"),
		StopLoss:     mustDecimal("1.08"),
		TakeProfit:   mustDecimal("1.0950"),
		Provider:     "tradingview",
		ProviderName: "TradingView",
		Timeframe:    "1h",
		Status:       signal.StatusActive,
		MarketType:   signal.AssetForex,
		Metadata:     map[string]any{"marketType": "forex"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSaveAndGetTradeSignal(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	sig := testSignal("sig-1")
	if err := database.SaveTradeSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}

	got, err := database.GetTradeSignal(ctx, "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Symbol != "EURUSD" || got.Side != signal.SideBuy || got.MarketType != signal.AssetForex {
		t.Errorf("unexpected signal: %+v", got)
	}
	if !got.Entry.Decimal.Equal(sig.Entry.Decimal) || got.Entry.Decimal.String() != "1.085" {
		t.Errorf("entry not preserved: %s", got.Entry.Decimal)
	}
	if got.ClosePrice.Valid || got.ClosedAt != nil {
		t.Error("open signal should have no close data")
	}
	if got.Metadata["marketType"] != "forex" {
		t.Errorf("metadata not restored: %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(sig.CreatedAt) {
		t.Errorf("created_at mismatch: %v vs %v", got.CreatedAt, sig.CreatedAt)
	}

	// Upsert replaces.
	sig.Notes = "moved stop"
	sig.StopLoss = mustDecimal("1.0825")
	if err := database.SaveTradeSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	got, _ = database.GetTradeSignal(ctx, "sig-1")
	if got.Notes != "moved stop" || got.StopLoss.Decimal.String() != "1.0825" {
		t.Errorf("upsert did not replace: %+v", got)
	}
}

func TestGetTradeSignalNotFound(t *testing.T) {
	database := newTestDB(t)
	_, err := database.GetTradeSignal(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	err = database.UpdateSignalStatus(context.Background(), SignalStatusUpdate{ID: "missing", Status: signal.StatusCancelled, UpdatedAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestUpdateSignalStatusAndActiveList(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := database.SaveTradeSignal(ctx, testSignal(id)); err != nil {
			t.Fatal(err)
		}
	}

	closed := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
	err := database.UpdateSignalStatus(ctx, SignalStatusUpdate{
		ID:         "b",
		Status:     signal.StatusTPHit,
		ClosePrice: mustDecimal("1.0950"),
		PnL:        mustDecimal("100.25"),
		ClosedAt:   &closed,
		UpdatedAt:  closed,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := database.GetTradeSignal(ctx, "b")
	if got.Status != signal.StatusTPHit || got.ClosePrice.Decimal.String() != "1.095" || got.PnL.Decimal.String() != "100.25" {
		t.Errorf("status update not persisted: %+v", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closed) {
		t.Errorf("closed_at mismatch: %v", got.ClosedAt)
	}

	active, err := database.ListActiveSignals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active signals, got %d", len(active))
	}
	for _, s := range active {
		if s.ID == "b" {
			t.Error("closed signal listed as active")
		}
	}

	all, _ := database.ListSignals(ctx, "", 2)
	if len(all) != 2 {
		t.Errorf("limit not applied, got %d", len(all))
	}
}

func TestSaveDoesNotReopenClosedSignal(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	stale := testSignal("s1")
	if err := database.SaveTradeSignal(ctx, stale); err != nil {
		t.Fatal(err)
	}
	closed := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
	if err := database.UpdateSignalStatus(ctx, SignalStatusUpdate{
		ID:         "s1",
		Status:     signal.StatusTPHit,
		ClosePrice: mustDecimal("1.0950"),
		ClosedAt:   &closed,
		UpdatedAt:  closed,
	}); err != nil {
		t.Fatal(err)
	}

	// An older active copy written afterwards leaves the close in place.
	if err := database.SaveTradeSignal(ctx, stale); err != nil {
		t.Fatal(err)
	}
	got, _ := database.GetTradeSignal(ctx, "s1")
	if got.Status != signal.StatusTPHit || !got.ClosePrice.Valid || got.ClosedAt == nil {
		t.Errorf("closed signal reopened: status=%s closePrice=%v", got.Status, got.ClosePrice)
	}
}

func TestRoutingResultRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	rec := &RoutingRecord{
		SignalID: "sig-1",
		UserID:   "user-1",
		Strategy: "all",
		Targets:  []string{"A", "B", "C"},
		Outcomes: []RoutingOutcome{
			{BrokerID: "A", Success: true, OrderID: "o-1"},
			{BrokerID: "B", Success: false, Error: "rejected"},
			{BrokerID: "C", Success: true, OrderID: "o-3"},
		},
	}
	if err := database.SaveRoutingResult(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("routing id not assigned")
	}

	list, err := database.ListRoutingResults(ctx, "sig-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one routing record, got %d", len(list))
	}
	got := list[0]
	if len(got.Targets) != 3 || got.Targets[2] != "C" {
		t.Errorf("targets not preserved: %v", got.Targets)
	}
	if len(got.Outcomes) != 3 || got.Outcomes[1].Success || got.Outcomes[1].Error != "rejected" || got.Outcomes[2].OrderID != "o-3" {
		t.Errorf("outcomes not preserved in order: %+v", got.Outcomes)
	}

	dup := &RoutingRecord{
		SignalID: "sig-1", UserID: "user-1", Strategy: "all",
		Outcomes: []RoutingOutcome{{BrokerID: "A"}, {BrokerID: "A"}},
	}
	if err := database.SaveRoutingResult(ctx, dup); err == nil {
		t.Error("expected duplicate broker outcome to be rejected")
	}
	if list, _ := database.ListRoutingResults(ctx, "sig-1"); len(list) != 1 {
		t.Error("failed routing save should roll back")
	}
}

func TestBrokerPreferences(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if _, err := database.GetUserBrokerPreferences(ctx, ""); !errors.Is(err, ErrUserIDRequired) {
		t.Errorf("expected ErrUserIDRequired, got %v", err)
	}

	prefs := []UserBrokerPreference{
		{UserID: "u1", BrokerID: "A", IsPrimary: true, PreferredAssetClasses: []string{"forex"}, Rating: 4},
		{UserID: "u1", BrokerID: "B", IsPrimary: true, Rating: 2},
		{UserID: "u2", BrokerID: "A", Rating: 5},
	}
	for _, p := range prefs {
		if err := database.UpsertUserBrokerPreference(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := database.GetUserBrokerPreferences(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 preferences, got %d", len(got))
	}
	if got[0].IsPrimary || !got[1].IsPrimary {
		t.Errorf("only the latest primary broker should remain primary: %+v", got)
	}
	if len(got[0].PreferredAssetClasses) != 1 || got[0].PreferredAssetClasses[0] != "forex" {
		t.Errorf("asset classes not preserved: %v", got[0].PreferredAssetClasses)
	}
}

func TestBrokerCapabilitiesAndConnections(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	caps := []BrokerCapability{
		{BrokerID: "binance", BrokerType: "binance", AssetClasses: []string{"crypto"}, ExecutionSpeed: 9, Commission: 2, Reliability: 8},
		{BrokerID: "paper", BrokerType: "paper", AssetClasses: []string{"crypto", "forex", "stocks"}, ExecutionSpeed: 10, Commission: 1, Reliability: 10},
	}
	for _, c := range caps {
		if err := database.UpsertBrokerCapability(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	list, err := database.ListBrokerCapabilities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[1].BrokerID != "paper" || len(list[1].AssetClasses) != 3 {
		t.Errorf("unexpected capabilities: %+v", list)
	}

	conns := []*BrokerConnection{
		{UserID: "u1", BrokerID: "paper", BrokerType: "paper", IsActive: true},
		{UserID: "u1", BrokerID: "binance", BrokerType: "binance", IsActive: false},
	}
	for _, c := range conns {
		if err := database.SaveBrokerConnection(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	active, err := database.ListBrokerConnections(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].BrokerID != "paper" {
		t.Errorf("expected only the active paper connection, got %+v", active)
	}
}

func TestRebind(t *testing.T) {
	d := &Database{Driver: DriverPostgres}
	if got := d.rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}
	d.Driver = DriverSQLite
	if got := d.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %s", got)
	}
}
