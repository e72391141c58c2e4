package danmaku

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Defaults for Config.
const (
	DefaultURL               = "wss://broadcastlv.chat.bilibili.com/sub"
	DefaultHost              = "broadcastlv.chat.bilibili.com"
	DefaultPort              = 2243
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRetryInterval     = 100 * time.Millisecond
	DefaultLivenessTimeout   = 45 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxFrameSize      = 8 << 20
	DefaultProtocolVersion   = 3
	DefaultPlatform          = "web"
	DefaultClientVersion     = "2.6.25"
)

// Config holds every tunable of a Session and Supervisor.
type Config struct {
	// URL is the WebSocket endpoint.
	URL string
	// Header is sent with the WebSocket handshake.
	Header http.Header

	// Host and Port locate the raw TCP endpoint.
	Host string
	Port int

	// HeartbeatInterval is the idle period after a heartbeat reply before
	// the next heartbeat request.
	HeartbeatInterval time.Duration
	// RetryInterval is the fixed delay before reconnecting.
	RetryInterval time.Duration
	// LivenessTimeout is how long a Supervisor waits for a heartbeat reply
	// before declaring the session dead.
	LivenessTimeout time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFrameSize bounds a single inbound frame or WebSocket message.
	MaxFrameSize int

	// Join handshake fields.
	ProtocolVersion int
	Platform        string
	ClientVersion   string
	UID             int64
	Key             string
	Buvid           string

	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if c.ClientVersion == "" {
		c.ClientVersion = DefaultClientVersion
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// TCPAddress returns Host:Port.
func (c Config) TCPAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
