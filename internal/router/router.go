// Package router chooses which of a user's brokers receive a trade signal
// and submits the orders.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
	"mcp-core/internal/notify"
	"mcp-core/internal/signal"
	"mcp-core/pkg/brokers/common"
	"mcp-core/pkg/config"
	"mcp-core/pkg/db"
)

// Strategy selects the target brokers of a routing call.
type Strategy string

const (
	StrategyAuto     Strategy = "auto"
	StrategyAll      Strategy = "all"
	StrategyPrimary  Strategy = "primary"
	StrategySpecific Strategy = "specific"
)

var (
	ErrNoAvailableBrokers = errors.New("no available brokers for user")
	ErrBrokerUnavailable  = errors.New("broker not available")
	ErrUnknownStrategy    = errors.New("unknown routing strategy")
	ErrNilSignal          = errors.New("signal is required")
)

// ParseStrategy validates a raw strategy name. Empty means auto.
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyAll, StrategyPrimary, StrategySpecific:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
}

// Pool supplies a user's broker adapters and tracks their health.
type Pool interface {
	Adapters(ctx context.Context, userID string) ([]common.Adapter, error)
	RecordFailure(userID, brokerID string)
	RecordSuccess(userID, brokerID string)
}

// Store is the storage the router reads preferences from and writes
// results to.
type Store interface {
	ListBrokerCapabilities(ctx context.Context) ([]db.BrokerCapability, error)
	GetUserBrokerPreferences(ctx context.Context, userID string) ([]db.UserBrokerPreference, error)
	SaveRoutingResult(ctx context.Context, r *db.RoutingRecord) error
}

// Enqueuer accepts notification messages.
type Enqueuer interface {
	Enqueue(queue string, msg message.Message) error
}

// Observer receives one call per broker outcome.
type Observer interface {
	ObserveRouting(brokerID string, success bool)
}

// BrokerResult is the outcome of the submission to one broker.
type BrokerResult struct {
	BrokerID string             `json:"brokerId"`
	Success  bool               `json:"success"`
	OrderID  string             `json:"orderId,omitempty"`
	Status   common.OrderStatus `json:"status,omitempty"`
	Error    string             `json:"error,omitempty"`
	Latency  time.Duration      `json:"latency"`
}

// RoutingResult collects the per-broker outcomes of one routing call, in
// target order.
type RoutingResult struct {
	ID         string         `json:"id"`
	SignalID   string         `json:"signalId"`
	UserID     string         `json:"userId"`
	Strategy   Strategy       `json:"strategy"`
	Targets    []string       `json:"targets"`
	Results    []BrokerResult `json:"results"`
	Candidates []Candidate    `json:"candidates,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Succeeded counts successful submissions.
func (r *RoutingResult) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Failed counts failed submissions.
func (r *RoutingResult) Failed() int { return len(r.Results) - r.Succeeded() }

// Router is the smart signal router.
type Router struct {
	pool          Pool
	store         Store
	queues        Enqueuer
	bus           *events.Bus
	observer      Observer
	profiles      map[string]db.BrokerCapability
	submitTimeout time.Duration
	log           zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithStore reads capabilities and preferences from s and persists results.
func WithStore(s Store) Option { return func(r *Router) { r.store = s } }

// WithNotifications publishes execution alerts to the notifications queue.
func WithNotifications(q Enqueuer) Option { return func(r *Router) { r.queues = q } }

// WithEvents publishes EventRoutingCompleted on bus.
func WithEvents(bus *events.Bus) Option { return func(r *Router) { r.bus = bus } }

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option { return func(r *Router) { r.observer = o } }

// WithProfiles sets capabilities used for brokers the store does not know.
func WithProfiles(profiles []config.BrokerProfile) Option {
	return func(r *Router) { r.profiles = profileCapabilities(profiles) }
}

// WithSubmitTimeout bounds each order submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.submitTimeout = d
		}
	}
}

func New(pool Pool, log zerolog.Logger, opts ...Option) *Router {
	r := &Router{
		pool:          pool,
		profiles:      map[string]db.BrokerCapability{},
		submitTimeout: 15 * time.Second,
		log:           log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RouteSignal submits sig to the brokers strategy selects for userID. A
// failing broker is reported in its result and does not stop the others;
// only the absence of a usable target is returned as an error.
func (r *Router) RouteSignal(ctx context.Context, sig *signal.TradeSignal, userID string, strategy Strategy) (*RoutingResult, error) {
	if sig == nil {
		return nil, ErrNilSignal
	}
	if strategy == "" {
		strategy = StrategyAuto
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	available, err := r.available(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAvailableBrokers, userID)
	}

	prefs := r.preferences(ctx, userID)
	result := &RoutingResult{
		SignalID:  sig.ID,
		UserID:    userID,
		Strategy:  strategy,
		CreatedAt: time.Now(),
	}

	var targets []common.Adapter
	switch strategy {
	case StrategyAll:
		targets = available
	case StrategyPrimary:
		targets = []common.Adapter{primary(available, prefs)}
	case StrategySpecific:
		a := find(available, sig.TargetBroker)
		if a == nil {
			return nil, fmt.Errorf("%w: %q", ErrBrokerUnavailable, sig.TargetBroker)
		}
		targets = []common.Adapter{a}
	case StrategyAuto:
		var best common.Adapter
		best, result.Candidates = r.best(ctx, sig, available, prefs)
		targets = []common.Adapter{best}
	}

	for _, a := range targets {
		result.Targets = append(result.Targets, a.Name())
	}
	result.Results = r.submit(ctx, sig, userID, targets)

	r.log.Info().
		Str("signal_id", sig.ID).
		Str("user_id", userID).
		Str("strategy", string(strategy)).
		Strs("targets", result.Targets).
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Msg("signal routed")

	r.record(ctx, sig, result)
	return result, nil
}

// available returns the user's adapters that are connected or connect on
// demand. Duplicate broker names are dropped.
func (r *Router) available(ctx context.Context, userID string) ([]common.Adapter, error) {
	if r.pool == nil {
		return nil, nil
	}
	adapters, err := r.pool.Adapters(ctx, userID)
	if err != nil && len(adapters) == 0 {
		return nil, fmt.Errorf("load brokers for %s: %w", userID, err)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("partial broker list")
	}

	seen := make(map[string]bool, len(adapters))
	out := make([]common.Adapter, 0, len(adapters))
	for _, a := range adapters {
		if seen[a.Name()] {
			continue
		}
		seen[a.Name()] = true
		if !a.IsConnected() {
			if err := a.Connect(ctx); err != nil {
				r.log.Warn().Err(err).Str("user_id", userID).Str("broker_id", a.Name()).Msg("broker connect failed")
				r.pool.RecordFailure(userID, a.Name())
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Router) preferences(ctx context.Context, userID string) map[string]*db.UserBrokerPreference {
	out := make(map[string]*db.UserBrokerPreference)
	if r.store == nil {
		return out
	}
	prefs, err := r.store.GetUserBrokerPreferences(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("load broker preferences failed")
		return out
	}
	for i := range prefs {
		out[prefs[i].BrokerID] = &prefs[i]
	}
	return out
}

func (r *Router) capabilities(ctx context.Context) map[string]*db.BrokerCapability {
	out := make(map[string]*db.BrokerCapability, len(r.profiles))
	for id, c := range r.profiles {
		c := c
		out[id] = &c
	}
	if r.store == nil {
		return out
	}
	caps, err := r.store.ListBrokerCapabilities(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("load broker capabilities failed, using profiles")
		return out
	}
	for i := range caps {
		out[caps[i].BrokerID] = &caps[i]
	}
	return out
}

// best scores every available broker and returns the winner.
func (r *Router) best(ctx context.Context, sig *signal.TradeSignal, available []common.Adapter, prefs map[string]*db.UserBrokerPreference) (common.Adapter, []Candidate) {
	class := sig.MarketType
	if class == "" {
		class = signal.ClassifyAssetClass(sig.Symbol)
	}
	caps := r.capabilities(ctx)

	scores := make([]int, len(available))
	candidates := make([]Candidate, len(available))
	for i, a := range available {
		scores[i] = Score(class, caps[a.Name()], prefs[a.Name()])
		candidates[i] = Candidate{BrokerID: a.Name(), Score: scores[i]}
	}
	return available[rank(scores)], candidates
}

func primary(available []common.Adapter, prefs map[string]*db.UserBrokerPreference) common.Adapter {
	for _, a := range available {
		if p := prefs[a.Name()]; p != nil && p.IsPrimary {
			return a
		}
	}
	return available[0]
}

func find(available []common.Adapter, brokerID string) common.Adapter {
	if brokerID == "" {
		return nil
	}
	for _, a := range available {
		if a.Name() == brokerID {
			return a
		}
	}
	return nil
}

// OrderFor builds the order a signal produces: a market order of one unit
// carrying the signal's protective levels.
func OrderFor(sig *signal.TradeSignal) common.OrderRequest {
	side := common.SideBuy
	if sig.Side == signal.SideSell {
		side = common.SideSell
	}
	marketType := sig.MarketType
	if marketType == "" {
		marketType = signal.ClassifyAssetClass(sig.Symbol)
	}
	return common.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Qty:        decimal.NewFromInt(1),
		MarketType: string(marketType),
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
}

// submit sends the order to every target concurrently. Results keep the
// order of targets.
func (r *Router) submit(ctx context.Context, sig *signal.TradeSignal, userID string, targets []common.Adapter) []BrokerResult {
	req := OrderFor(sig)
	results := make([]BrokerResult, len(targets))

	var wg sync.WaitGroup
	for i, a := range targets {
		wg.Add(1)
		go func(i int, a common.Adapter) {
			defer wg.Done()
			results[i] = r.submitOne(ctx, a, req)
		}(i, a)
	}
	wg.Wait()

	for _, res := range results {
		if res.Success {
			r.pool.RecordSuccess(userID, res.BrokerID)
		} else {
			r.pool.RecordFailure(userID, res.BrokerID)
		}
		if r.observer != nil {
			r.observer.ObserveRouting(res.BrokerID, res.Success)
		}
	}
	return results
}

func (r *Router) submitOne(ctx context.Context, a common.Adapter, req common.OrderRequest) (res BrokerResult) {
	res.BrokerID = a.Name()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", p)
			r.log.Error().Interface("panic", p).Str("broker_id", res.BrokerID).Msg("order submission panicked")
		}
		res.Latency = time.Since(start)
	}()

	sctx, cancel := context.WithTimeout(ctx, r.submitTimeout)
	defer cancel()
	ack, err := a.SubmitOrder(sctx, req)
	if err != nil {
		res.Error = err.Error()
		r.log.Warn().Err(err).Str("broker_id", res.BrokerID).Str("symbol", req.Symbol).Msg("order submission failed")
		return res
	}
	res.Success = true
	res.OrderID = ack.OrderID
	res.Status = ack.Status
	return res
}

// record persists the result, queues execution alerts and announces the
// routing on the event bus. Failures here never undo submitted orders.
func (r *Router) record(ctx context.Context, sig *signal.TradeSignal, result *RoutingResult) {
	if r.store != nil {
		rec := &db.RoutingRecord{
			SignalID:  result.SignalID,
			UserID:    result.UserID,
			Strategy:  string(result.Strategy),
			Targets:   result.Targets,
			CreatedAt: result.CreatedAt,
		}
		for _, res := range result.Results {
			rec.Outcomes = append(rec.Outcomes, db.RoutingOutcome{
				BrokerID: res.BrokerID,
				Success:  res.Success,
				OrderID:  res.OrderID,
				Error:    res.Error,
			})
		}
		if err := r.store.SaveRoutingResult(ctx, rec); err != nil {
			r.log.Error().Err(err).Str("signal_id", sig.ID).Msg("save routing result failed")
		}
		result.ID = rec.ID
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	if r.queues != nil {
		for _, res := range result.Results {
			if !res.Success {
				continue
			}
			alert := notify.ExecutionAlert(res.BrokerID, res.OrderID, sig)
			msg := message.New(message.PriorityHigh, alert.Payload(), message.WithSource("router"), message.WithTarget(result.UserID))
			if err := r.queues.Enqueue(message.QueueNotifications, msg); err != nil {
				r.log.Warn().Err(err).Str("broker_id", res.BrokerID).Msg("queue execution alert failed")
			}
		}
	}

	if r.bus != nil {
		r.bus.Publish(events.EventRoutingCompleted, *result)
	}
}
