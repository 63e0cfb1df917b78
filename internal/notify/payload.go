package notify

import (
	"fmt"

	"mcp-core/internal/message"
)

const urgentKey = "urgent"

// Payload wraps the alert for the notifications queue.
func (a Alert) Payload() message.NotificationPayload {
	data := make(map[string]any, len(a.Data)+1)
	for k, v := range a.Data {
		data[k] = v
	}
	if a.Urgent {
		data[urgentKey] = true
	}
	return message.NotificationPayload{
		Event:    a.Event,
		Title:    a.Title,
		Body:     a.Body,
		SignalID: a.SignalID,
		Data:     data,
	}
}

// FromPayload rebuilds an alert from a queued notification.
func FromPayload(p message.NotificationPayload) Alert {
	a := Alert{
		Event:    p.Event,
		Title:    p.Title,
		Body:     p.Body,
		SignalID: p.SignalID,
	}
	if len(p.Data) == 0 {
		return a
	}
	a.Data = make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		if k == urgentKey {
			switch u := v.(type) {
			case bool:
				a.Urgent = u
			case string:
				a.Urgent = u == "true"
			}
			continue
		}
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			a.Data[k] = s
			continue
		}
		a.Data[k] = fmt.Sprint(v)
	}
	return a
}
