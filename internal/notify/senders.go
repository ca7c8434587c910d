package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"

	"github.com/harryaskham/io-mcp/pkg/models"
)

func eventTitle(e models.Event) string {
	return string(e.EventType)
}

func eventMessage(e models.Event) string {
	if msg, ok := e.Data["message"].(string); ok {
		return msg
	}
	body, _ := json.Marshal(e.Data)
	return string(body)
}

// sendNtfy POSTs a plain text body with Title/Priority/Tags headers.
func (d *Dispatcher) sendNtfy(ch Channel, e models.Event) error {
	req, err := http.NewRequest(http.MethodPost, ch.URL, bytes.NewBufferString(eventMessage(e)))
	if err != nil {
		return fmt.Errorf("ntfy request: %w", err)
	}
	req.Header.Set("Title", eventTitle(e))
	if ch.Priority != "" {
		req.Header.Set("Priority", ch.Priority)
	}
	req.Header.Set("Tags", string(e.EventType))
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy send: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// sendSlack posts a blocks+text payload via slack.WebhookMessage /
// slack.PostWebhook
func (d *Dispatcher) sendSlack(ch Channel, e models.Event) error {
	msg := &slack.WebhookMessage{
		Text: eventMessage(e),
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*\n%s", eventTitle(e), eventMessage(e)), false, false),
					nil, nil,
				),
			},
		},
	}
	if err := slack.PostWebhook(ch.URL, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// sendDiscord posts an embeds payload via discordgo's webhook-execute
// REST call (no gateway connection)
func (d *Dispatcher) sendDiscord(ch Channel, e models.Event) error {
	session, err := discordgo.New("")
	if err != nil {
		return fmt.Errorf("discordgo session: %w", err)
	}
	webhookID, token, err := parseDiscordWebhookURL(ch.URL)
	if err != nil {
		return err
	}

	_, err = session.WebhookExecute(webhookID, token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       eventTitle(e),
				Description: eventMessage(e),
				Footer:      &discordgo.MessageEmbedFooter{Text: e.SessionID},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

// parseDiscordWebhookURL extracts {webhook_id}/{token} from a standard
// Discord webhook URL
// (https://discord.com/api/webhooks/{id}/{token}).
func parseDiscordWebhookURL(url string) (id, token string, err error) {
	const marker = "/webhooks/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return "", "", fmt.Errorf("not a discord webhook URL: %s", url)
	}
	parts := strings.SplitN(url[idx+len(marker):], "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed discord webhook URL: %s", url)
	}
	return parts[0], parts[1], nil
}

// sendWebhook sends the generic payload shape to a
// caller-configured URL/method/headers.
func (d *Dispatcher) sendWebhook(ch Channel, e models.Event) error {
	payload := map[string]any{
		"event_type":   e.EventType,
		"title":        eventTitle(e),
		"message":      eventMessage(e),
		"session_name": e.Data["session_name"],
		"session_id":   e.SessionID,
		"priority":     ch.Priority,
		"timestamp":    e.Timestamp,
		"tags":         e.Data["tags"],
		"extra":        e.Data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	method := ch.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, ch.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
