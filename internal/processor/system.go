package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-core/internal/message"
)

// CommandFunc runs one system command.
type CommandFunc func(ctx context.Context, data map[string]any) error

// SystemProcessor answers housekeeping commands. heartbeat and ping are
// built in; others are registered with Handle.
type SystemProcessor struct {
	nodeID      string
	broadcaster Broadcaster
	log         zerolog.Logger

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewSystemProcessor(nodeID string, b Broadcaster, log zerolog.Logger) *SystemProcessor {
	return &SystemProcessor{
		nodeID:      nodeID,
		broadcaster: orNop(b),
		log:         log,
		commands:    make(map[string]CommandFunc),
	}
}

// Handle registers fn for command.
func (p *SystemProcessor) Handle(command string, fn CommandFunc) {
	p.mu.Lock()
	p.commands[strings.ToLower(command)] = fn
	p.mu.Unlock()
}

func (p *SystemProcessor) Name() string  { return "system" }
func (p *SystemProcessor) Queue() string { return message.QueueSystem }

func (p *SystemProcessor) Process(ctx context.Context, msg message.Message) error {
	payload, ok := msg.Payload.(message.SystemPayload)
	if !ok {
		return fmt.Errorf("%w: %T on %s", ErrUnexpectedPayload, msg.Payload, p.Queue())
	}
	cmd := strings.ToLower(payload.Command)
	switch cmd {
	case "heartbeat", "ping":
		p.broadcaster.Broadcast(EventSystem, map[string]any{
			"command": "heartbeat",
			"nodeId":  p.nodeID,
			"at":      time.Now().UTC(),
		})
		return nil
	}

	p.mu.RLock()
	fn, ok := p.commands[cmd]
	p.mu.RUnlock()
	if !ok {
		p.log.Debug().Str("command", payload.Command).Str("source", msg.Source).Msg("ignoring system command")
		return nil
	}
	if err := fn(ctx, payload.Data); err != nil {
		return fmt.Errorf("system command %s: %w", cmd, err)
	}
	p.log.Info().Str("command", cmd).Msg("system command executed")
	return nil
}
