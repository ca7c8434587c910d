// Package notify implements the notification dispatcher:
// per-channel event filters, cooldowns, and off-hot-path delivery to
// ntfy/slack/discord/webhook sinks.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harryaskham/io-mcp/pkg/models"
)

// ChannelType is the closed set of sink types
type ChannelType string

const (
	ChannelNtfy    ChannelType = "ntfy"
	ChannelSlack   ChannelType = "slack"
	ChannelDiscord ChannelType = "discord"
	ChannelWebhook ChannelType = "webhook"
)

// Channel configures one notification sink.
type Channel struct {
	Name     string
	Type     ChannelType
	URL      string
	Method   string
	Headers  map[string]string
	Events   []string // "all" or specific event_type strings
	Priority string
}

// AcceptsEvent reports whether this channel wants eventType: true when
// "all" appears in Events, or the specific type is listed.
func (c Channel) AcceptsEvent(eventType string) bool {
	for _, e := range c.Events {
		if e == "all" || e == eventType {
			return true
		}
	}
	return false
}

// DefaultCooldown is the per-channel, per-event-type dedup window.
const DefaultCooldown = 60 * time.Second

// sender is the per-channel-type delivery function; swapped in tests.
type sender func(ch Channel, e models.Event) error

// Dispatcher fans events out to configured channels off the hot path.
type Dispatcher struct {
	mu       sync.Mutex
	Enabled  bool
	Channels []Channel
	Cooldown time.Duration

	lastSent map[string]time.Time // key: channelName+"|"+eventType
	log      *slog.Logger
	senders  map[ChannelType]sender
}

// New builds a Dispatcher with the default per-type senders wired:
// slack via github.com/slack-go/slack, discord via
// github.com/bwmarrin/discordgo, ntfy/webhook via plain net/http.
func New(channels []Channel, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		Enabled:  true,
		Channels: channels,
		Cooldown: DefaultCooldown,
		lastSent: make(map[string]time.Time),
		log:      log,
	}
	d.senders = map[ChannelType]sender{
		ChannelNtfy:    d.sendNtfy,
		ChannelSlack:   d.sendSlack,
		ChannelDiscord: d.sendDiscord,
		ChannelWebhook: d.sendWebhook,
	}
	return d
}

// Notify dispatches e to every accepting, non-cooled channel, each off
// the hot path (its own goroutine). A disabled dispatcher or empty
// channel list is a no-op.
func (d *Dispatcher) Notify(e models.Event) {
	if !d.Enabled || len(d.Channels) == 0 {
		return
	}

	for _, ch := range d.Channels {
		if !ch.AcceptsEvent(string(e.EventType)) {
			continue
		}
		if d.cooledDown(ch.Name, string(e.EventType)) {
			continue
		}
		send, ok := d.senders[ch.Type]
		if !ok {
			continue
		}
		go func(ch Channel, send sender) {
			if err := send(ch, e); err != nil {
				d.log.Warn("notification send failed", "channel", ch.Name, "type", ch.Type, "err", err)
			}
		}(ch, send)
	}
}

func (d *Dispatcher) cooledDown(channelName, eventType string) bool {
	key := channelName + "|" + eventType
	cooldown := d.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSent[key]
	if ok && time.Since(last) < cooldown {
		return true
	}
	d.lastSent[key] = time.Now()
	return false
}
