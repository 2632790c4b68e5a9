package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type RelayMode string

const (
	RelayModeWS     RelayMode = "ws"
	RelayModeRedis  RelayMode = "redis"
	RelayModeGossip RelayMode = "gossip"
	RelayModeMemory RelayMode = "memory"
)

type CaptureMode string

const (
	CaptureDevice    CaptureMode = "device"
	CaptureSynthetic CaptureMode = "synthetic"
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

const (
	DefaultListenAddr      = ":8090"
	DefaultRelayListenAddr = ":8080"
	DefaultRelayURL        = "ws://localhost:8080/ws"
	DefaultRelayTopic      = "yacall-signaling"
	DefaultRedisAddr       = "localhost:6379"
	DefaultGossipListen    = "/ip4/0.0.0.0/tcp/0"
	DefaultGossipMDNSTag   = "yacall"
	DefaultICEServers      = "stun:stun.l.google.com:19302"
	DefaultTokenTTL        = 24 * time.Hour
	DefaultResubscribeMin  = 500 * time.Millisecond
	DefaultResubscribeMax  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

const (
	envPrefix = "YACALL_"

	envListenAddr       = envPrefix + "LISTEN_ADDR"
	envRelayListenAddr  = envPrefix + "RELAY_LISTEN_ADDR"
	envRelayMode        = envPrefix + "RELAY_MODE"
	envRelayURL         = envPrefix + "RELAY_URL"
	envRelayTopic       = envPrefix + "RELAY_TOPIC"
	envRelayTokenSecret = envPrefix + "RELAY_TOKEN_SECRET"
	envRedisAddr        = envPrefix + "REDIS_ADDR"
	envRedisPassword    = envPrefix + "REDIS_PASSWORD"
	envRedisDB          = envPrefix + "REDIS_DB"
	envGossipListen     = envPrefix + "GOSSIP_LISTEN"
	envGossipPeers      = envPrefix + "GOSSIP_PEERS"
	envGossipMDNSTag    = envPrefix + "GOSSIP_MDNS_TAG"
	envSelfID           = envPrefix + "SELF_ID"
	envDisplayName      = envPrefix + "DISPLAY_NAME"
	envICEServers       = envPrefix + "ICE_SERVERS"
	envUDPPortMin       = envPrefix + "UDP_PORT_MIN"
	envUDPPortMax       = envPrefix + "UDP_PORT_MAX"
	envCapture          = envPrefix + "CAPTURE"
	envLogLevel         = envPrefix + "LOG_LEVEL"
	envLogFormat        = envPrefix + "LOG_FORMAT"
	envResubscribeMin   = envPrefix + "RESUBSCRIBE_MIN"
	envResubscribeMax   = envPrefix + "RESUBSCRIBE_MAX"
	envShutdownTimeout  = envPrefix + "SHUTDOWN_TIMEOUT"
)

type Config struct {
	ListenAddr      string
	RelayListenAddr string

	RelayMode        RelayMode
	RelayURL         string
	RelayTopic       string
	RelayTokenSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GossipListen  string
	GossipPeers   []string
	GossipMDNSTag string

	SelfID      string
	DisplayName string

	ICEServers []string
	UDPPortMin uint16
	UDPPortMax uint16
	Capture    CaptureMode

	LogLevel  zerolog.Level
	LogFormat LogFormat

	ResubscribeMin  time.Duration
	ResubscribeMax  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the environment, then lets command line flags override it.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envListenAddr, DefaultListenAddr)
	relayListenAddr := envOrDefault(lookup, envRelayListenAddr, DefaultRelayListenAddr)
	relayModeStr := envOrDefault(lookup, envRelayMode, string(RelayModeWS))
	relayURL := envOrDefault(lookup, envRelayURL, DefaultRelayURL)
	relayTopic := envOrDefault(lookup, envRelayTopic, DefaultRelayTopic)
	relayTokenSecret := envOrDefault(lookup, envRelayTokenSecret, "")
	redisAddr := envOrDefault(lookup, envRedisAddr, DefaultRedisAddr)
	redisPassword := envOrDefault(lookup, envRedisPassword, "")
	gossipListen := envOrDefault(lookup, envGossipListen, DefaultGossipListen)
	gossipPeersStr := envOrDefault(lookup, envGossipPeers, "")
	gossipMDNSTag := envOrDefault(lookup, envGossipMDNSTag, DefaultGossipMDNSTag)
	selfID := envOrDefault(lookup, envSelfID, "")
	displayName := envOrDefault(lookup, envDisplayName, "")
	iceServersStr := envOrDefault(lookup, envICEServers, DefaultICEServers)
	captureStr := envOrDefault(lookup, envCapture, string(CaptureDevice))
	logLevelStr := envOrDefault(lookup, envLogLevel, "info")
	logFormatStr := envOrDefault(lookup, envLogFormat, string(LogFormatConsole))

	redisDB, err := envIntOrDefault(lookup, envRedisDB, 0)
	if err != nil {
		return Config{}, err
	}
	udpPortMin, err := envIntOrDefault(lookup, envUDPPortMin, 0)
	if err != nil {
		return Config{}, err
	}
	udpPortMax, err := envIntOrDefault(lookup, envUDPPortMax, 0)
	if err != nil {
		return Config{}, err
	}
	resubscribeMin, err := envDurationOrDefault(lookup, envResubscribeMin, DefaultResubscribeMin)
	if err != nil {
		return Config{}, err
	}
	resubscribeMax, err := envDurationOrDefault(lookup, envResubscribeMax, DefaultResubscribeMax)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("yacall", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address of the call agent (env "+envListenAddr+")")
	fs.StringVar(&relayListenAddr, "relay-listen-addr", relayListenAddr, "HTTP listen address of the relay server (env "+envRelayListenAddr+")")
	fs.StringVar(&relayModeStr, "relay-mode", relayModeStr, "Signaling transport: ws, redis, gossip or memory (env "+envRelayMode+")")
	fs.StringVar(&relayURL, "relay-url", relayURL, "Relay server websocket URL (env "+envRelayURL+")")
	fs.StringVar(&relayTopic, "relay-topic", relayTopic, "Broadcast channel name (env "+envRelayTopic+")")
	fs.StringVar(&relayTokenSecret, "relay-token-secret", relayTokenSecret, "HMAC secret for relay admission tokens (env "+envRelayTokenSecret+")")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address (env "+envRedisAddr+")")
	fs.IntVar(&redisDB, "redis-db", redisDB, "Redis database (env "+envRedisDB+")")
	fs.StringVar(&gossipListen, "gossip-listen", gossipListen, "libp2p listen multiaddr (env "+envGossipListen+")")
	fs.StringVar(&gossipPeersStr, "gossip-peers", gossipPeersStr, "Comma-separated bootstrap peer multiaddrs (env "+envGossipPeers+")")
	fs.StringVar(&gossipMDNSTag, "gossip-mdns-tag", gossipMDNSTag, "mDNS service tag, empty disables discovery (env "+envGossipMDNSTag+")")
	fs.StringVar(&selfID, "self-id", selfID, "Local user id, generated when empty (env "+envSelfID+")")
	fs.StringVar(&displayName, "display-name", displayName, "Name shown to the callee (env "+envDisplayName+")")
	fs.StringVar(&iceServersStr, "ice-servers", iceServersStr, "Comma-separated STUN/TURN URLs (env "+envICEServers+")")
	fs.IntVar(&udpPortMin, "udp-port-min", udpPortMin, "Min UDP port for ICE, 0 = unset (env "+envUDPPortMin+")")
	fs.IntVar(&udpPortMax, "udp-port-max", udpPortMax, "Max UDP port for ICE, 0 = unset (env "+envUDPPortMax+")")
	fs.StringVar(&captureStr, "capture", captureStr, "Capture source: device or synthetic (env "+envCapture+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: trace, debug, info, warn, error (env "+envLogLevel+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: console or json (env "+envLogFormat+")")
	fs.DurationVar(&resubscribeMin, "resubscribe-min", resubscribeMin, "Initial relay resubscribe backoff (env "+envResubscribeMin+")")
	fs.DurationVar(&resubscribeMax, "resubscribe-max", resubscribeMax, "Max relay resubscribe backoff (env "+envResubscribeMax+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envShutdownTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	relayMode := RelayMode(strings.ToLower(strings.TrimSpace(relayModeStr)))
	switch relayMode {
	case RelayModeWS, RelayModeRedis, RelayModeGossip, RelayModeMemory:
	default:
		return Config{}, fmt.Errorf("invalid relay mode %q (expected ws, redis, gossip or memory)", relayModeStr)
	}

	capture := CaptureMode(strings.ToLower(strings.TrimSpace(captureStr)))
	switch capture {
	case CaptureDevice, CaptureSynthetic:
	default:
		return Config{}, fmt.Errorf("invalid capture mode %q (expected device or synthetic)", captureStr)
	}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(logLevelStr)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", logLevelStr, err)
	}

	logFormat := LogFormat(strings.ToLower(strings.TrimSpace(logFormatStr)))
	switch logFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid log format %q (expected console or json)", logFormatStr)
	}

	if err := validPort(udpPortMin); err != nil {
		return Config{}, fmt.Errorf("invalid udp port min: %w", err)
	}
	if err := validPort(udpPortMax); err != nil {
		return Config{}, fmt.Errorf("invalid udp port max: %w", err)
	}
	if (udpPortMin == 0) != (udpPortMax == 0) {
		return Config{}, fmt.Errorf("%s and %s must be set together (or both unset)", envUDPPortMin, envUDPPortMax)
	}
	if udpPortMin > udpPortMax {
		return Config{}, fmt.Errorf("udp port range %d-%d is empty", udpPortMin, udpPortMax)
	}

	if resubscribeMin <= 0 || resubscribeMax < resubscribeMin {
		return Config{}, fmt.Errorf("invalid resubscribe backoff %s-%s", resubscribeMin, resubscribeMax)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be positive")
	}
	if relayMode == RelayModeRedis && strings.TrimSpace(redisAddr) == "" {
		return Config{}, fmt.Errorf("%s is required in redis mode", envRedisAddr)
	}
	if relayMode == RelayModeWS && strings.TrimSpace(relayURL) == "" {
		return Config{}, fmt.Errorf("%s is required in ws mode", envRelayURL)
	}

	return Config{
		ListenAddr:       listenAddr,
		RelayListenAddr:  relayListenAddr,
		RelayMode:        relayMode,
		RelayURL:         relayURL,
		RelayTopic:       relayTopic,
		RelayTokenSecret: relayTokenSecret,
		RedisAddr:        redisAddr,
		RedisPassword:    redisPassword,
		RedisDB:          redisDB,
		GossipListen:     gossipListen,
		GossipPeers:      splitList(gossipPeersStr),
		GossipMDNSTag:    gossipMDNSTag,
		SelfID:           strings.TrimSpace(selfID),
		DisplayName:      strings.TrimSpace(displayName),
		ICEServers:       splitList(iceServersStr),
		UDPPortMin:       uint16(udpPortMin),
		UDPPortMax:       uint16(udpPortMax),
		Capture:          capture,
		LogLevel:         logLevel,
		LogFormat:        logFormat,
		ResubscribeMin:   resubscribeMin,
		ResubscribeMax:   resubscribeMax,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

// Logger builds the process logger: a console writer for humans, JSON
// otherwise.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	if c.LogFormat == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(c.LogLevel).With().Timestamp().Caller().Logger()
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func validPort(p int) error {
	if p < 0 || p > 65535 {
		return fmt.Errorf("port %d out of range", p)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
