package config

import (
	"fmt"
	"time"
)

// Transport kinds.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config is the root client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Account   AccountConfig   `yaml:"account"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds streaming endpoint settings.
type ServerConfig struct {
	// Endpoint is host:port for TCP or a ws:// / wss:// URL for
	// WebSocket.
	Endpoint string `yaml:"endpoint"`

	// Transport selects the connection kind: "tcp" or "websocket".
	Transport string `yaml:"transport"`

	// AdapterSet selects the server-side adapter set.
	AdapterSet string `yaml:"adapter_set"`

	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// EstablishTimeout bounds session create and bind.
	EstablishTimeout time.Duration `yaml:"establish_timeout"`

	// Keepalive is assumed when the server does not advertise one.
	Keepalive time.Duration `yaml:"keepalive"`
}

// AccountConfig holds credentials. Values support ${VAR} expansion so
// secrets can stay out of the file.
type AccountConfig struct {
	Identifier string `yaml:"identifier"`
	Password   string `yaml:"password"`
}

// ReconnectConfig holds recovery pacing.
type ReconnectConfig struct {
	// BackoffBase is the delay ceiling for the first retry.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffCap bounds delay ceiling growth.
	BackoffCap time.Duration `yaml:"backoff_cap"`

	// MaxAttempts limits consecutive failures; negative means
	// unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DispatchConfig holds consumer delivery settings.
type DispatchConfig struct {
	// QueueCapacity is the per-subscription channel buffer.
	QueueCapacity int `yaml:"queue_capacity"`

	// DrainTimeout is how long delivery waits on a full consumer
	// before dropping an update.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// MaxSubscriptions limits concurrently tracked subscriptions.
	MaxSubscriptions int `yaml:"max_subscriptions"`
}

// LoggingConfig holds protocol event logging settings.
type LoggingConfig struct {
	// File receives CBOR-encoded protocol events. Empty disables the
	// file logger.
	File string `yaml:"file"`

	// Console mirrors events to stderr as structured text.
	Console bool `yaml:"console"`
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.Server.Transport == "" {
		c.Server.Transport = TransportTCP
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = 30 * time.Second
	}
	if c.Server.EstablishTimeout == 0 {
		c.Server.EstablishTimeout = 15 * time.Second
	}
	if c.Server.Keepalive == 0 {
		c.Server.Keepalive = 5 * time.Second
	}
	if c.Reconnect.BackoffBase == 0 {
		c.Reconnect.BackoffBase = time.Second
	}
	if c.Reconnect.BackoffCap == 0 {
		c.Reconnect.BackoffCap = 60 * time.Second
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 10
	}
	if c.Dispatch.QueueCapacity == 0 {
		c.Dispatch.QueueCapacity = 128
	}
	if c.Dispatch.DrainTimeout == 0 {
		c.Dispatch.DrainTimeout = 500 * time.Millisecond
	}
	if c.Dispatch.MaxSubscriptions == 0 {
		c.Dispatch.MaxSubscriptions = 64
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Endpoint == "" {
		return fmt.Errorf("server.endpoint is required")
	}
	switch c.Server.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q",
			TransportTCP, TransportWebSocket, c.Server.Transport)
	}
	if c.Account.Identifier == "" {
		return fmt.Errorf("account.identifier is required")
	}
	if c.Reconnect.BackoffBase > c.Reconnect.BackoffCap {
		return fmt.Errorf("reconnect.backoff_base exceeds reconnect.backoff_cap")
	}
	if c.Dispatch.QueueCapacity < 1 {
		return fmt.Errorf("dispatch.queue_capacity must be positive")
	}
	return nil
}
