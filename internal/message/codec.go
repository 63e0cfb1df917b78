package message

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON restores the payload variant from the message type, so that
// journaled messages survive a restart with their concrete payloads.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var aux struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux.alias)

	var (
		p   Payload
		err error
	)
	switch m.Type {
	case TypeTradingSignal:
		var v SignalPayload
		err = json.Unmarshal(aux.Payload, &v)
		p = v
	case TypeSignalStatus:
		var v StatusPayload
		err = json.Unmarshal(aux.Payload, &v)
		p = v
	case TypeNotification:
		var v NotificationPayload
		err = json.Unmarshal(aux.Payload, &v)
		p = v
	case TypeMarketData:
		var v MarketDataPayload
		err = json.Unmarshal(aux.Payload, &v)
		p = v
	case TypeUserAction:
		var v UserActionPayload
		err = json.Unmarshal(aux.Payload, &v)
		p = v
	case TypeSystem:
		var v SystemPayload
		err = json.Unmarshal(aux.Payload, &v)
		p = v
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, m.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	m.Payload = p
	return nil
}
