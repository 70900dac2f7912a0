package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Embed colours by severity.
const (
	colorInfo  = 0x2ecc71
	colorAlert = 0xe74c3c
)

// maxEmbedFields is Discord's cap on fields per embed.
const maxEmbedFields = 25

// DiscordSender posts notifications to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultHTTPClient}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
}

// Send posts one embed. "key: value" lines of message become inline fields
// so run ids and amounts line up in the client; the raw text is kept as a
// code block description. Partial executions and aborts are coloured red.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	embed := discordEmbed{
		Title:       title,
		Description: "```\n" + message + "\n```",
		Color:       colorInfo,
		Fields:      embedFields(message),
	}
	if isAlert(title) {
		embed.Color = colorAlert
	}
	if err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []discordEmbed{embed}}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func isAlert(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "partial") || strings.Contains(t, "abort")
}

func embedFields(message string) []discordField {
	var fields []discordField
	for _, line := range strings.Split(message, "\n") {
		name, value, ok := strings.Cut(line, ": ")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		fields = append(fields, discordField{Name: name, Value: value, Inline: true})
		if len(fields) == maxEmbedFields {
			break
		}
	}
	return fields
}
