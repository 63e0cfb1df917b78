package processor

// Realtime event names sent to clients.
const (
	EventTradingSignal      = "trading_signal"
	EventSignalStatusUpdate = "signal_status_update"
	EventNotification       = "notification"
	EventMarketData         = "market_data"
	EventSystem             = "system"
)

// Delivery reports how many clients received an event.
type Delivery struct {
	Delivered int `json:"delivered"`
	Total     int `json:"total"`
}

// Broadcaster pushes events to connected clients. Delivery is best effort.
type Broadcaster interface {
	Broadcast(event string, data any) Delivery
	SendToUser(userID, event string, data any) Delivery
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, any) Delivery          { return Delivery{} }
func (nopBroadcaster) SendToUser(string, string, any) Delivery { return Delivery{} }

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}
