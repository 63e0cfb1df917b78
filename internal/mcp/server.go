// Package mcp is the message control plane orchestrator. It owns the
// queues, handlers and processors, tracks realtime clients and runs the
// periodic persistence jobs.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"

	"mcp-core/internal/broker"
	"mcp-core/internal/events"
	"mcp-core/internal/handler"
	"mcp-core/internal/message"
	"mcp-core/internal/monitor"
	"mcp-core/internal/notify"
	"mcp-core/internal/processor"
	"mcp-core/internal/queue"
	"mcp-core/internal/router"
	"mcp-core/internal/signal"
	"mcp-core/internal/state"
	"mcp-core/pkg/i18n"
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrNoRouter      = errors.New("routing not configured")
)

// Delivery reports how many clients received an event.
type Delivery = processor.Delivery

// Config holds the orchestrator settings.
type Config struct {
	NodeID            string
	Version           string
	ProcessorInterval time.Duration
	PersistInterval   time.Duration
	ResyncInterval    time.Duration
	StatsInterval     time.Duration
	// AutoRouteUsers receive every new signal through the router.
	AutoRouteUsers    []string
	AutoRouteStrategy router.Strategy
}

// DefaultConfig returns the documented timings.
func DefaultConfig() Config {
	return Config{
		Version:           "dev",
		ProcessorInterval: processor.DefaultInterval,
		PersistInterval:   5 * time.Minute,
		ResyncInterval:    30 * time.Minute,
		StatsInterval:     15 * time.Second,
		AutoRouteStrategy: router.StrategyAuto,
	}
}

// Deps are the collaborators injected into the server.
type Deps struct {
	Queues     *queue.Manager
	Store      processor.SignalStore
	Sink       notify.Sink
	Router     *router.Router
	Pool       *broker.Pool
	Bus        *events.Bus
	Metrics    *monitor.SystemMetrics
	Collectors *monitor.Collectors
}

// Server is the control plane. Construct one per process with New.
type Server struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	handlers   *handler.Registry
	processors *processor.Manager
	signals    *processor.SignalProcessor
	system     *processor.SystemProcessor
	state      *state.Manager
	health     *health.Server

	mu            sync.RWMutex
	clients       map[string]*Client
	clientToUser  map[string]string
	userToClient  map[string]string
	running       bool
	startedAt     time.Time
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastPersisted time.Time
}

// New wires the processors and handlers around deps. Nothing runs until
// Start.
func New(cfg Config, deps Deps, log zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = def.PersistInterval
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = def.ResyncInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.AutoRouteStrategy == "" {
		cfg.AutoRouteStrategy = def.AutoRouteStrategy
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.NodeID == "" {
		cfg.NodeID = NodeID()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Queues == nil {
		deps.Queues = queue.NewManager(queue.DefaultMaxSize, queue.WithLogger(log), queue.WithEvents(deps.Bus))
	}

	s := &Server{
		cfg:          cfg,
		deps:         deps,
		log:          log,
		state:        state.NewManager(),
		health:       health.NewServer(),
		clients:      make(map[string]*Client),
		clientToUser: make(map[string]string),
		userToClient: make(map[string]string),
	}
	s.setServing(false)

	procOpts := []processor.Option{processor.WithEvents(deps.Bus)}
	if deps.Collectors != nil {
		procOpts = append(procOpts, processor.WithObserver(deps.Collectors))
	}
	var storeObs processor.StoreObserver
	if deps.Metrics != nil {
		procOpts = append(procOpts, processor.WithObserver(deps.Metrics))
		storeObs = deps.Metrics
	}
	s.processors = processor.NewManager(deps.Queues, cfg.ProcessorInterval, log.With().Str("component", "processors").Logger(), procOpts...)

	s.signals = processor.NewSignalProcessor(processor.SignalConfig{
		Queues:        deps.Queues,
		Store:         deps.Store,
		StoreObserver: storeObs,
		Broadcaster:   s,
		Bus:           deps.Bus,
	}, log.With().Str("component", "signal").Logger())
	s.system = processor.NewSystemProcessor(cfg.NodeID, s, log.With().Str("component", "system").Logger())
	s.system.Handle("persist", func(ctx context.Context, _ map[string]any) error {
		_, err := s.PersistSignals(ctx)
		return err
	})
	s.system.Handle("resync", func(ctx context.Context, _ map[string]any) error {
		_, err := s.signals.Resync(ctx)
		return err
	})
	s.system.Handle("prune_markets", func(ctx context.Context, _ map[string]any) error {
		n := s.state.PruneMarkets(time.Hour)
		s.log.Debug().Int("pruned", n).Msg("stale market snapshots pruned")
		return nil
	})

	for _, p := range []processor.Processor{
		s.signals,
		processor.NewNotificationProcessor(deps.Sink, s, log.With().Str("component", "notification").Logger()),
		processor.NewMarketDataProcessor(s.state, s, log.With().Str("component", "market_data").Logger()),
		processor.NewUserActionProcessor(s.state, log.With().Str("component", "user_action").Logger()),
		s.system,
	} {
		if err := s.processors.Register(p); err != nil {
			s.log.Error().Err(err).Msg("register processor")
		}
	}

	s.handlers = handler.NewRegistry(deps.Queues, log.With().Str("component", "handlers").Logger())
	s.handlers.Register(handler.NewTradingViewHandler(s.signals))
	return s
}

// Start creates the queues, replays the journal, loads active signals and
// starts the processor loops and timers.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	m := i18n.M()
	for _, name := range message.QueueNames {
		s.deps.Queues.CreateQueue(name)
	}
	s.log.Info().Strs("queues", message.QueueNames).Msg(m.QueuesCreated)

	if n, err := s.deps.Queues.Recover(); err != nil {
		s.log.Warn().Err(err).Msg("queue journal recovery failed")
	} else if n > 0 {
		s.log.Info().Int("messages", n).Msg("queued messages recovered from journal")
	}

	if n, err := s.signals.LoadActiveSignals(ctx); err != nil {
		s.log.Warn().Err(err).Msg("starting without stored active signals")
	} else {
		s.log.Info().Int("signals", n).Msg(m.ActiveSignalsLoaded)
	}

	if s.deps.Pool != nil {
		s.deps.Pool.Start(runCtx)
	}
	s.processors.Start(runCtx)

	s.every(runCtx, s.cfg.PersistInterval, func(ctx context.Context) {
		if _, err := s.PersistSignals(ctx); err != nil {
			s.log.Warn().Err(err).Msg("periodic persist failed")
		}
	})
	s.every(runCtx, s.cfg.ResyncInterval, func(ctx context.Context) {
		if n, err := s.signals.Resync(ctx); err != nil {
			s.log.Warn().Err(err).Msg("periodic resync failed")
		} else {
			s.log.Info().Int("signals", n).Msg(m.SignalsResynced)
		}
	})
	s.every(runCtx, s.cfg.StatsInterval, func(context.Context) { s.refreshStats() })

	if s.deps.Router != nil && len(s.cfg.AutoRouteUsers) > 0 {
		s.startAutoRoute(runCtx)
	}

	s.setServing(true)
	s.log.Info().Str("node_id", s.cfg.NodeID).Str("version", s.cfg.Version).Msg("control plane started")
	return nil
}

// Stop halts the timers and processors, flushes active signals and
// disconnects every client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.setServing(false)
	cancel()
	s.wg.Wait()

	s.processors.Stop()

	var errs []error
	if n, err := s.PersistSignals(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final persist: %w", err))
	} else {
		s.log.Info().Int("signals", n).Msg(i18n.M().SignalsPersisted)
	}

	if s.deps.Pool != nil {
		s.deps.Pool.Stop()
	}

	s.mu.Lock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.clientToUser = make(map[string]string)
	s.userToClient = make(map[string]string)
	s.mu.Unlock()

	s.log.Info().Msg("control plane stopped")
	return errors.Join(errs...)
}

// Running reports whether Start has been called without Stop.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// PersistSignals flushes the active signal cache to storage.
func (s *Server) PersistSignals(ctx context.Context) (int, error) {
	n, err := s.signals.PersistSignals(ctx)
	if err == nil {
		s.mu.Lock()
		s.lastPersisted = time.Now()
		s.mu.Unlock()
	}
	return n, err
}

func (s *Server) refreshStats() {
	stats := s.deps.Queues.Stats()
	clients := s.ClientCount()
	if s.deps.Collectors != nil {
		s.deps.Collectors.SetQueueDepths(stats)
		s.deps.Collectors.Clients.Set(float64(clients))
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetQueueStats(stats)
		s.deps.Metrics.SetClients(clients)
		if s.deps.Pool != nil {
			s.deps.Metrics.SetBrokerPoolStats(s.deps.Pool.Stats())
		}
	}
}

func (s *Server) startAutoRoute(ctx context.Context) {
	created, unsub := s.deps.Bus.Subscribe(events.EventSignalCreated, 100)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-created:
				if !ok {
					return
				}
				sig, ok := ev.(*signal.TradeSignal)
				if !ok {
					continue
				}
				for _, userID := range s.cfg.AutoRouteUsers {
					res, err := s.deps.Router.RouteSignal(ctx, sig, userID, s.cfg.AutoRouteStrategy)
					if err != nil {
						s.log.Warn().Err(err).Str("signal_id", sig.ID).Str("user_id", userID).Msg("auto routing failed")
						continue
					}
					s.afterRouting(res)
				}
			}
		}
	}()
}

func (s *Server) afterRouting(res *router.RoutingResult) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.IncrementRoutings()
	}
	s.SendToUser(res.UserID, "routing_result", res)
}

// RouteSignal routes a stored or cached signal for a user.
func (s *Server) RouteSignal(ctx context.Context, signalID, userID string, strategy router.Strategy) (*router.RoutingResult, error) {
	if s.deps.Router == nil {
		return nil, ErrNoRouter
	}
	sig, err := s.signals.Signal(ctx, signalID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.deps.Router.RouteSignal(ctx, sig, userID, strategy)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RoutingLatency.RecordDuration(time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	s.afterRouting(res)
	return res, nil
}

// Connect registers a realtime client and greets it. A non-empty userID
// is registered immediately.
func (s *Server) Connect(conn Conn, userID string) *Client {
	c := newClient(uuid.NewString(), conn, func(c *Client, err error) {
		s.log.Debug().Err(err).Str("client_id", c.ID).Msg("client write failed")
		s.Disconnect(c.ID)
	})
	s.mu.Lock()
	s.clients[c.ID] = c
	total := len(s.clients)
	s.mu.Unlock()

	c.deliver(Event{
		Type: "connection_init",
		Data: map[string]any{
			"clientId": c.ID,
			"nodeId":   s.cfg.NodeID,
			"version":  s.cfg.Version,
			"message":  i18n.M().ConnectionWelcome,
		},
		Timestamp: time.Now(),
	})
	s.log.Info().Str("client_id", c.ID).Int("clients", total).Msg("client connected")

	if userID != "" {
		_ = s.RegisterUser(c.ID, userID)
	}
	return c
}

// Disconnect drops a client and its user mapping.
func (s *Server) Disconnect(clientID string) {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, clientID)
	if userID, ok := s.clientToUser[clientID]; ok {
		delete(s.clientToUser, clientID)
		if s.userToClient[userID] == clientID {
			delete(s.userToClient, userID)
		}
	}
	total := len(s.clients)
	s.mu.Unlock()

	c.close()
	s.log.Info().Str("client_id", clientID).Int("clients", total).Msg("client disconnected")
}

// RegisterUser binds userID to clientID. A previous client of the same
// user is unbound and told it was replaced.
func (s *Server) RegisterUser(clientID, userID string) error {
	s.mu.Lock()
	if _, ok := s.clients[clientID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if prevUser, ok := s.clientToUser[clientID]; ok && prevUser != userID {
		delete(s.userToClient, prevUser)
	}
	var replaced *Client
	if prev, ok := s.userToClient[userID]; ok && prev != clientID {
		delete(s.clientToUser, prev)
		replaced = s.clients[prev]
	}
	s.userToClient[userID] = clientID
	s.clientToUser[clientID] = userID
	s.mu.Unlock()

	if replaced != nil {
		replaced.deliver(Event{
			Type:      "reconnect",
			Data:      map[string]any{"userId": userID, "message": i18n.M().ReconnectNotice},
			Timestamp: time.Now(),
		})
		s.log.Info().Str("user_id", userID).Str("old_client", replaced.ID).Str("client_id", clientID).Msg("user session replaced")
	}
	s.state.SetUser(state.UserState{UserID: userID, LastAction: "register"})
	return nil
}

// UserOf returns the user bound to a client.
func (s *Server) UserOf(clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.clientToUser[clientID]
	return u, ok
}

// ClientOf returns the client bound to a user.
func (s *Server) ClientOf(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.userToClient[userID]
	return c, ok
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BroadcastToAllClients sends an event to every open client.
func (s *Server) BroadcastToAllClients(event string, data any) Delivery {
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	return s.deliver(targets, event, data)
}

// Broadcast implements processor.Broadcaster.
func (s *Server) Broadcast(event string, data any) Delivery {
	return s.BroadcastToAllClients(event, data)
}

// SendToUser sends an event to the client bound to userID.
func (s *Server) SendToUser(userID, event string, data any) Delivery {
	s.mu.RLock()
	c := s.clients[s.userToClient[userID]]
	s.mu.RUnlock()
	if c == nil {
		return Delivery{}
	}
	return s.deliver([]*Client{c}, event, data)
}

// SendToClient sends an event to one client.
func (s *Server) SendToClient(clientID, event string, data any) Delivery {
	s.mu.RLock()
	c := s.clients[clientID]
	s.mu.RUnlock()
	if c == nil {
		return Delivery{}
	}
	return s.deliver([]*Client{c}, event, data)
}

func (s *Server) deliver(targets []*Client, event string, data any) Delivery {
	ev := Event{Type: event, Data: data, Timestamp: time.Now()}
	d := Delivery{Total: len(targets)}
	for _, c := range targets {
		if c.deliver(ev) {
			d.Delivered++
		}
	}
	if d.Delivered < d.Total {
		s.log.Debug().Str("event", event).Int("delivered", d.Delivered).Int("total", d.Total).Msg("partial delivery")
	}
	return d
}

// HandleClientMessage processes one inbound realtime message. register
// binds the client to a user; ping is answered directly; everything else
// goes through the handler registry.
func (s *Server) HandleClientMessage(ctx context.Context, clientID string, raw handler.Raw) (*handler.Result, error) {
	t, _ := raw["type"].(string)
	switch t {
	case "register", "auth":
		userID, _ := raw["userId"].(string)
		if userID == "" {
			return nil, fmt.Errorf("%w: register without userId", message.ErrInvalidPayload)
		}
		return nil, s.RegisterUser(clientID, userID)
	case "ping":
		s.SendToClient(clientID, "pong", map[string]any{"nodeId": s.cfg.NodeID})
		return nil, nil
	}
	res, err := s.handlers.ProcessMessage(ctx, clientID, raw)
	if err == nil && res != nil && s.deps.Metrics != nil && res.Type == message.TypeTradingSignal {
		s.deps.Metrics.IncrementSignals()
	}
	return res, err
}

// Status is the runtime view of the control plane.
type Status struct {
	NodeID        string        `json:"nodeId"`
	Version       string        `json:"version"`
	Running       bool          `json:"running"`
	StartedAt     time.Time     `json:"startedAt"`
	Uptime        string        `json:"uptime"`
	Clients       int           `json:"clients"`
	Users         int           `json:"users"`
	Handlers      []string      `json:"handlers"`
	Processors    []string      `json:"processors"`
	ActiveSignals int           `json:"activeSignals"`
	Queues        []queue.Stats `json:"queues"`
	Brokers       *broker.Stats `json:"brokers,omitempty"`
	LastPersisted time.Time     `json:"lastPersisted"`
}

func (s *Server) Status() Status {
	s.mu.RLock()
	st := Status{
		NodeID:        s.cfg.NodeID,
		Version:       s.cfg.Version,
		Running:       s.running,
		StartedAt:     s.startedAt,
		Clients:       len(s.clients),
		Users:         len(s.userToClient),
		LastPersisted: s.lastPersisted,
	}
	s.mu.RUnlock()
	if st.Running {
		st.Uptime = time.Since(st.StartedAt).Round(time.Second).String()
	}
	st.Handlers = s.handlers.Handlers()
	st.Processors = s.processors.Names()
	st.ActiveSignals = len(s.signals.ActiveSignals())
	st.Queues = s.deps.Queues.Stats()
	if s.deps.Pool != nil {
		b := s.deps.Pool.Stats()
		st.Brokers = &b
	}
	return st
}

// Accessors for the HTTP layer.
func (s *Server) Handlers() *handler.Registry         { return s.handlers }
func (s *Server) Signals() *processor.SignalProcessor { return s.signals }
func (s *Server) Queues() *queue.Manager              { return s.deps.Queues }
func (s *Server) State() *state.Manager               { return s.state }
func (s *Server) Bus() *events.Bus                    { return s.deps.Bus }
func (s *Server) Health() *health.Server              { return s.health }
func (s *Server) Processors() *processor.Manager      { return s.processors }
func (s *Server) System() *processor.SystemProcessor  { return s.system }
func (s *Server) Config() Config                      { return s.cfg }
