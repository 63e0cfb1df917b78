package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
	"mcp-core/internal/notify"
	"mcp-core/internal/signal"
	"mcp-core/internal/state"
	"mcp-core/pkg/db"
)

// SignalStore is the storage collaborator of the signal processor.
type SignalStore interface {
	state.SignalStore
	SaveTradeSignal(ctx context.Context, s *signal.TradeSignal) error
	UpdateSignalStatus(ctx context.Context, u db.SignalStatusUpdate) error
}

// StoreObserver receives the duration of every storage call.
type StoreObserver interface {
	ObserveStore(op string, d time.Duration)
}

// SignalConfig wires a SignalProcessor.
type SignalConfig struct {
	Queues        Enqueuer
	Cache         *state.SignalCache
	Store         SignalStore
	StoreObserver StoreObserver
	Broadcaster   Broadcaster
	Bus           *events.Bus
}

// SignalProcessor owns the trading_signals queue: new signals and status
// transitions of existing ones.
type SignalProcessor struct {
	queues      Enqueuer
	cache       *state.SignalCache
	store       SignalStore
	storeObs    StoreObserver
	broadcaster Broadcaster
	bus         *events.Bus
	locks       *keyLock
	now         func() time.Time
	log         zerolog.Logger
}

func NewSignalProcessor(cfg SignalConfig, log zerolog.Logger) *SignalProcessor {
	c := cfg.Cache
	if c == nil {
		c = state.NewSignalCache(cfg.Store)
	}
	return &SignalProcessor{
		queues:      cfg.Queues,
		cache:       c,
		store:       cfg.Store,
		storeObs:    cfg.StoreObserver,
		broadcaster: orNop(cfg.Broadcaster),
		bus:         cfg.Bus,
		locks:       newKeyLock(),
		now:         time.Now,
		log:         log,
	}
}

func (p *SignalProcessor) Name() string  { return "signal" }
func (p *SignalProcessor) Queue() string { return message.QueueTradingSignals }

func (p *SignalProcessor) Process(ctx context.Context, msg message.Message) error {
	switch payload := msg.Payload.(type) {
	case message.SignalPayload:
		if payload.Signal == nil {
			return fmt.Errorf("%w: empty signal", message.ErrInvalidPayload)
		}
		return p.HandleSignal(ctx, payload.Signal)
	case message.StatusPayload:
		ok, err := p.UpdateSignalStatus(ctx, payload.SignalID, payload.Status, payload.PnL)
		if err != nil {
			return err
		}
		if !ok {
			p.log.Warn().Str("signal_id", payload.SignalID).Str("status", string(payload.Status)).Msg("status update for unknown signal")
		}
		return nil
	}
	return fmt.Errorf("%w: %T on %s", ErrUnexpectedPayload, msg.Payload, p.Queue())
}

// ProcessMessage queues sig for asynchronous handling.
func (p *SignalProcessor) ProcessMessage(sig *signal.TradeSignal) (message.Message, error) {
	if sig == nil {
		return message.Message{}, fmt.Errorf("%w: empty signal", message.ErrInvalidPayload)
	}
	msg := message.New(message.PriorityHigh, message.SignalPayload{Signal: sig},
		message.WithSource(sig.Provider),
		message.WithMetadata("signalId", sig.ID))
	if err := p.queues.Enqueue(p.Queue(), msg); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// HandleSignal activates a new signal: cache, storage, broadcast and alert.
// A redelivered id is ignored, so a closed signal is never reopened. A
// storage failure is returned after the broadcast; the signal stays cached
// and is written by the next PersistSignals.
func (p *SignalProcessor) HandleSignal(ctx context.Context, sig *signal.TradeSignal) error {
	unlock := p.locks.Lock(sig.ID)
	defer unlock()

	existing, err := p.cache.Get(ctx, sig.ID)
	switch {
	case err == nil:
		p.log.Info().
			Str("signal_id", sig.ID).
			Str("status", string(existing.Status)).
			Msg("duplicate signal delivery ignored")
		return nil
	case !errors.Is(err, state.ErrSignalNotFound):
		p.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("duplicate check failed, activating")
	}

	if sig.Status == "" {
		sig.Status = signal.StatusActive
	}
	p.cache.Put(sig)

	var persistErr error
	if p.store != nil {
		if err := p.timed("save", func() error { return p.store.SaveTradeSignal(ctx, sig) }); err != nil {
			persistErr = fmt.Errorf("save signal %s: %w", sig.ID, err)
		}
	}

	d := p.broadcaster.Broadcast(EventTradingSignal, sig.View())
	p.log.Info().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Str("provider", sig.Provider).
		Int("delivered", d.Delivered).
		Int("clients", d.Total).
		Msg("signal activated")

	p.alert(notify.NewSignalAlert(sig), message.PriorityMedium)
	if p.bus != nil {
		p.bus.Publish(events.EventSignalCreated, sig.Clone())
	}
	return persistErr
}

// UpdateSignalStatus moves a signal to status. It returns false without
// error when the signal is unknown, and false with ErrTerminalStatus when
// the signal is already closed. Updates to one id are serialized.
func (p *SignalProcessor) UpdateSignalStatus(ctx context.Context, id string, status signal.Status, pnl decimal.NullDecimal) (bool, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	sig, err := p.cache.Get(ctx, id)
	if errors.Is(err, state.ErrSignalNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load signal %s: %w", id, err)
	}
	if sig.Status == status && !status.IsTerminal() {
		return true, nil
	}
	if err := sig.ApplyStatus(status, pnl, p.now()); err != nil {
		return false, err
	}

	if p.store != nil {
		err := p.timed("update_status", func() error {
			return p.store.UpdateSignalStatus(ctx, db.SignalStatusUpdate{
				ID:         sig.ID,
				Status:     sig.Status,
				ClosePrice: sig.ClosePrice,
				PnL:        sig.PnL,
				ClosedAt:   sig.ClosedAt,
				UpdatedAt:  sig.UpdatedAt,
			})
		})
		if errors.Is(err, db.ErrNotFound) {
			err = p.timed("save", func() error { return p.store.SaveTradeSignal(ctx, sig) })
		}
		if err != nil {
			return false, fmt.Errorf("persist status of %s: %w", id, err)
		}
	}
	p.cache.Put(sig)

	d := p.broadcaster.Broadcast(EventSignalStatusUpdate, sig.View())
	p.log.Info().
		Str("signal_id", id).
		Str("status", string(sig.Status)).
		Int("delivered", d.Delivered).
		Msg("signal status updated")

	if sig.Status.IsTerminal() {
		p.alert(notify.SignalClosedAlert(sig), message.PriorityHigh)
		if p.bus != nil {
			p.bus.Publish(events.EventSignalClosed, sig.Clone())
		}
	}
	return true, nil
}

// Signal returns a signal from the cache or storage.
func (p *SignalProcessor) Signal(ctx context.Context, id string) (*signal.TradeSignal, error) {
	return p.cache.Get(ctx, id)
}

// ActiveSignals returns the cached active signals, newest first.
func (p *SignalProcessor) ActiveSignals() []*signal.TradeSignal {
	return p.cache.Active()
}

// LoadActiveSignals fills the cache from storage on startup.
func (p *SignalProcessor) LoadActiveSignals(ctx context.Context) (int, error) {
	n, err := p.cache.Refresh(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active signals: %w", err)
	}
	p.log.Info().Int("signals", n).Msg("active signals loaded")
	return n, nil
}

// PersistSignals writes every cached active signal back to storage. Each
// write holds the signal's lock and uses the cached copy current at that
// moment, so a concurrent close is never overwritten.
func (p *SignalProcessor) PersistSignals(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	var errs []error
	saved := 0
	for _, snap := range p.cache.Active() {
		ok, err := p.persistOne(ctx, snap.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", snap.ID, err))
			continue
		}
		if ok {
			saved++
		}
	}
	p.log.Debug().Int("saved", saved).Int("failed", len(errs)).Msg("signals persisted")
	return saved, errors.Join(errs...)
}

func (p *SignalProcessor) persistOne(ctx context.Context, id string) (bool, error) {
	unlock := p.locks.Lock(id)
	defer unlock()
	sig, ok := p.cache.Cached(id)
	if !ok {
		return false, nil
	}
	if err := p.timed("save", func() error { return p.store.SaveTradeSignal(ctx, sig) }); err != nil {
		return false, err
	}
	return true, nil
}

func (p *SignalProcessor) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.storeObs != nil {
		p.storeObs.ObserveStore(op, time.Since(start))
	}
	return err
}

// Resync replaces the cache with the active signals in storage.
func (p *SignalProcessor) Resync(ctx context.Context) (int, error) {
	n, err := p.cache.Refresh(ctx)
	if err != nil {
		return 0, fmt.Errorf("resync signals: %w", err)
	}
	p.log.Info().Int("signals", n).Msg("signal cache resynced")
	return n, nil
}

func (p *SignalProcessor) alert(a notify.Alert, priority message.Priority) {
	if p.queues == nil {
		return
	}
	msg := message.New(priority, a.Payload(), message.WithSource(p.Name()))
	if err := p.queues.Enqueue(message.QueueNotifications, msg); err != nil {
		p.log.Warn().Err(err).Str("event", a.Event).Msg("queue notification failed")
	}
}
