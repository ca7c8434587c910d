package config

import "github.com/harryaskham/io-mcp/internal/notify"

// NotifyConfig configures the notification dispatcher's channels.
// Disabled and empty by default: notification delivery is opt-in.
type NotifyConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig mirrors notify.Channel for YAML decoding.
type ChannelConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Method   string            `yaml:"method"`
	Headers  map[string]string `yaml:"headers"`
	Events   []string          `yaml:"events"`
	Priority string            `yaml:"priority"`
}

// DefaultNotifyConfig returns a disabled dispatcher with no channels.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{Enabled: false}
}

// ToChannels converts the YAML-decoded channel configs into
// notify.Channel values.
func (c NotifyConfig) ToChannels() []notify.Channel {
	out := make([]notify.Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		out = append(out, notify.Channel{
			Name: ch.Name, Type: notify.ChannelType(ch.Type), URL: ch.URL,
			Method: ch.Method, Headers: ch.Headers, Events: ch.Events, Priority: ch.Priority,
		})
	}
	return out
}
