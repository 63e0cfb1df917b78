package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	discordColorInfo   = 0x3498DB
	discordColorUrgent = 0xE74C3C
)

// Discord posts alerts to a Discord channel webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *Discord) Notify(ctx context.Context, a Alert) error {
	if d.webhookURL == "" {
		return nil
	}
	embed := discordEmbed{
		Title:       a.Title,
		Description: a.Body,
		Color:       discordColorInfo,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if a.Urgent {
		embed.Color = discordColorUrgent
	}
	if a.SignalID != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Signal", Value: a.SignalID, Inline: true})
	}
	raw, err := json.Marshal(discordPayload{Username: "MCP", Embeds: []discordEmbed{embed}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord: unexpected status %d", resp.StatusCode)
	}
	return nil
}
