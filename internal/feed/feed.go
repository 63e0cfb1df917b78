// Package feed polls external signal sources and submits what they publish
// as trade signals. Fetches retry on a fixed delay table and fall back to
// the last good snapshot once retries are exhausted.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
	"mcp-core/internal/signal"
	"mcp-core/pkg/i18n"
)

// DefaultBackoff is the delay before each retry.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

const DefaultMaxRetries = 3

var ErrNoSnapshot = errors.New("feed: fetch failed and no snapshot cached")

// Fetcher retrieves the current list of raw signals from a source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]map[string]any, error)
}

// Submitter accepts normalized signals.
type Submitter interface {
	ProcessMessage(sig *signal.TradeSignal) (message.Message, error)
}

// HTTPFetcher reads a JSON array of signals, or an object holding one under
// "signals" or "data".
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeSignals(resp.Body)
}

func decodeSignals(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	switch v := raw.(type) {
	case []any:
		return objects(v), nil
	case map[string]any:
		for _, k := range []string{"signals", "data"} {
			if list, ok := v[k].([]any); ok {
				return objects(list), nil
			}
		}
		return []map[string]any{v}, nil
	}
	return nil, fmt.Errorf("decode feed: unexpected %T", raw)
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Config tunes a Poller.
type Config struct {
	Provider   string
	Interval   time.Duration
	Backoff    []time.Duration
	MaxRetries int
	// RatePerMinute bounds fetches including retries.
	RatePerMinute int
}

// Poller fetches a source periodically and submits new signals.
type Poller struct {
	fetcher Fetcher
	submit  Submitter
	bus     *events.Bus
	cfg     Config
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	log     zerolog.Logger

	mu       sync.Mutex
	last     []map[string]any
	lastGood time.Time
	seen     map[string]time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPoller(fetcher Fetcher, submit Submitter, bus *events.Bus, cfg Config, log zerolog.Logger) *Poller {
	if cfg.Provider == "" {
		cfg.Provider = "feed"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	return &Poller{
		fetcher: fetcher,
		submit:  submit,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.MaxRetries+1),
		sleep:   sleepCtx,
		log:     log,
		seen:    make(map[string]time.Time),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start polls until ctx is cancelled or Stop is called. Calling Start on a
// running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("signal feed poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels polling and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// Fetch returns the source's signals, retrying per the backoff table. When
// every attempt fails the last good snapshot is returned with stale=true.
func (p *Poller) Fetch(ctx context.Context) (items []map[string]any, stale bool, err error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.Backoff[min(attempt-1, len(p.cfg.Backoff)-1)]
			p.log.Debug().Int("attempt", attempt).Dur("delay", delay).Err(lastErr).Msg("retrying signal feed")
			if err := p.sleep(ctx, delay); err != nil {
				return nil, false, err
			}
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, false, err
		}
		items, lastErr = p.fetcher.Fetch(ctx)
		if lastErr == nil {
			p.mu.Lock()
			p.last = items
			p.lastGood = time.Now()
			p.mu.Unlock()
			return items, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
	}

	p.mu.Lock()
	snapshot, at := p.last, p.lastGood
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(events.EventFeedDegraded, events.Failure{
			Component: "feed",
			Queue:     p.cfg.Provider,
			Err:       lastErr,
			At:        time.Now(),
		})
	}
	if snapshot == nil {
		return nil, true, fmt.Errorf("%w: %v", ErrNoSnapshot, lastErr)
	}
	p.log.Warn().Err(lastErr).Time("snapshot_at", at).Int("retries", p.cfg.MaxRetries).Msg(i18n.M().FeedFallback)
	return snapshot, true, nil
}

// Poll fetches once and submits signals not seen before. It returns the
// number submitted.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	items, _, err := p.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	submitted := 0
	now := time.Now()
	for _, item := range items {
		sig, err := signal.FromPayload(item, p.cfg.Provider, now)
		if err != nil {
			p.log.Debug().Err(err).Msg("skipping malformed feed item")
			continue
		}
		id, _ := item["id"].(string)
		if id != "" {
			sig.ID = id
		}
		k := dedupeKey(sig, id)
		p.mu.Lock()
		_, dup := p.seen[k]
		if !dup {
			p.seen[k] = now
		}
		p.mu.Unlock()
		if dup {
			continue
		}
		if _, err := p.submit.ProcessMessage(sig); err != nil {
			p.mu.Lock()
			delete(p.seen, k)
			p.mu.Unlock()
			p.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("submit feed signal failed")
			continue
		}
		submitted++
	}
	p.prune(now.Add(-24 * time.Hour))
	return submitted, nil
}

func (p *Poller) prune(before time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, at := range p.seen {
		if at.Before(before) {
			delete(p.seen, k)
		}
	}
}

func dedupeKey(sig *signal.TradeSignal, id string) string {
	if id != "" {
		return "id:" + id
	}
	return strings.Join([]string{
		sig.Provider,
		sig.Symbol,
		string(sig.Side),
		sig.Entry.Decimal.String(),
		sig.StopLoss.Decimal.String(),
		sig.TakeProfit.Decimal.String(),
	}, "|")
}
