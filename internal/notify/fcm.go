package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

// MessagingClient is the subset of the FCM client used here.
type MessagingClient interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
}

// FCM pushes alerts to a Firebase Cloud Messaging topic.
type FCM struct {
	client MessagingClient
	topic  string
}

// NewFCM initializes Firebase from a service account file.
func NewFCM(ctx context.Context, credentialsFile, topic string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return NewFCMWithClient(client, topic), nil
}

func NewFCMWithClient(client MessagingClient, topic string) *FCM {
	if topic == "" {
		topic = "signals"
	}
	return &FCM{client: client, topic: topic}
}

func (f *FCM) Name() string { return "fcm" }

func (f *FCM) Notify(ctx context.Context, a Alert) error {
	if _, err := f.client.Send(ctx, f.message(a)); err != nil {
		return fmt.Errorf("fcm: send: %w", err)
	}
	return nil
}

func (f *FCM) message(a Alert) *messaging.Message {
	data := make(map[string]string, len(a.Data)+2)
	for k, v := range a.Data {
		data[k] = v
	}
	data["event"] = a.Event
	if a.SignalID != "" {
		data["signalId"] = a.SignalID
	}
	m := &messaging.Message{
		Notification: &messaging.Notification{Title: a.Title, Body: a.Body},
		Data:         data,
		Topic:        f.topic,
	}
	if a.Urgent {
		m.Android = &messaging.AndroidConfig{Priority: "high"}
	}
	return m
}
