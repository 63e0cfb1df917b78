package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mcp-core/internal/message"
	"mcp-core/internal/state"
)

// MarketDataProcessor keeps the latest snapshot per symbol.
type MarketDataProcessor struct {
	state       *state.Manager
	broadcaster Broadcaster
	log         zerolog.Logger
}

func NewMarketDataProcessor(st *state.Manager, b Broadcaster, log zerolog.Logger) *MarketDataProcessor {
	return &MarketDataProcessor{state: st, broadcaster: orNop(b), log: log}
}

func (p *MarketDataProcessor) Name() string  { return "market_data" }
func (p *MarketDataProcessor) Queue() string { return message.QueueMarketData }

func (p *MarketDataProcessor) Process(ctx context.Context, msg message.Message) error {
	payload, ok := msg.Payload.(message.MarketDataPayload)
	if !ok {
		return fmt.Errorf("%w: %T on %s", ErrUnexpectedPayload, msg.Payload, p.Queue())
	}
	snap := state.MarketSnapshot{Symbol: payload.Symbol, Price: payload.Price, Data: payload.Data}
	p.state.SetMarket(snap)
	p.broadcaster.Broadcast(EventMarketData, snap)
	return nil
}

// UserActionProcessor keeps the latest action per user. Actions without a
// user id are attributed to the sending client.
type UserActionProcessor struct {
	state *state.Manager
	log   zerolog.Logger
}

func NewUserActionProcessor(st *state.Manager, log zerolog.Logger) *UserActionProcessor {
	return &UserActionProcessor{state: st, log: log}
}

func (p *UserActionProcessor) Name() string  { return "user_action" }
func (p *UserActionProcessor) Queue() string { return message.QueueUserActions }

func (p *UserActionProcessor) Process(ctx context.Context, msg message.Message) error {
	payload, ok := msg.Payload.(message.UserActionPayload)
	if !ok {
		return fmt.Errorf("%w: %T on %s", ErrUnexpectedPayload, msg.Payload, p.Queue())
	}
	userID := payload.UserID
	if userID == "" {
		userID = msg.Source
	}
	if userID == "" {
		return fmt.Errorf("%w: user action without user", message.ErrInvalidPayload)
	}
	p.state.SetUser(state.UserState{UserID: userID, LastAction: payload.Action, Data: payload.Data})
	p.log.Debug().Str("user_id", userID).Str("action", payload.Action).Msg("user action recorded")
	return nil
}
