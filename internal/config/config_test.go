package config

import (
	"bytes"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.RelayMode != RelayModeWS {
		t.Fatalf("RelayMode=%q, want %q", cfg.RelayMode, RelayModeWS)
	}
	if cfg.Capture != CaptureDevice {
		t.Fatalf("Capture=%q, want %q", cfg.Capture, CaptureDevice)
	}
	if cfg.LogLevel != zerolog.InfoLevel || cfg.LogFormat != LogFormatConsole {
		t.Fatalf("log=%v/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if !slices.Equal(cfg.ICEServers, []string{DefaultICEServers}) {
		t.Fatalf("ICEServers=%v", cfg.ICEServers)
	}
	if cfg.UDPPortMin != 0 || cfg.UDPPortMax != 0 {
		t.Fatalf("udp range %d-%d, want unset", cfg.UDPPortMin, cfg.UDPPortMax)
	}
	if cfg.ResubscribeMin != DefaultResubscribeMin || cfg.ResubscribeMax != DefaultResubscribeMax {
		t.Fatalf("resubscribe %s-%s", cfg.ResubscribeMin, cfg.ResubscribeMax)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("ShutdownTimeout=%s", cfg.ShutdownTimeout)
	}
	if cfg.GossipPeers != nil {
		t.Fatalf("GossipPeers=%v, want none", cfg.GossipPeers)
	}
}

func TestEnvAndFlagOverride(t *testing.T) {
	env := map[string]string{
		envRelayMode:       "REDIS",
		envRedisAddr:       "redis:6379",
		envRedisDB:         "3",
		envSelfID:          " alice ",
		envICEServers:      "stun:a:3478, turn:b:3478 ,",
		envUDPPortMin:      "40000",
		envUDPPortMax:      "40100",
		envLogLevel:        "debug",
		envGossipPeers:     "/ip4/10.0.0.1/tcp/4001/p2p/QmPeer",
		envShutdownTimeout: "3s",
	}
	cfg, err := load(lookupMap(env), []string{"-capture", "synthetic", "-redis-db", "5", "-log-format", "json"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayMode != RelayModeRedis || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("relay=%q %q", cfg.RelayMode, cfg.RedisAddr)
	}
	if cfg.RedisDB != 5 {
		t.Fatalf("RedisDB=%d, want flag value 5", cfg.RedisDB)
	}
	if cfg.SelfID != "alice" {
		t.Fatalf("SelfID=%q", cfg.SelfID)
	}
	if !slices.Equal(cfg.ICEServers, []string{"stun:a:3478", "turn:b:3478"}) {
		t.Fatalf("ICEServers=%v", cfg.ICEServers)
	}
	if cfg.UDPPortMin != 40000 || cfg.UDPPortMax != 40100 {
		t.Fatalf("udp range %d-%d", cfg.UDPPortMin, cfg.UDPPortMax)
	}
	if cfg.Capture != CaptureSynthetic || cfg.LogFormat != LogFormatJSON || cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("capture=%q format=%q level=%v", cfg.Capture, cfg.LogFormat, cfg.LogLevel)
	}
	if len(cfg.GossipPeers) != 1 {
		t.Fatalf("GossipPeers=%v", cfg.GossipPeers)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout=%s", cfg.ShutdownTimeout)
	}
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"relay mode", map[string]string{envRelayMode: "carrier-pigeon"}, nil, "invalid relay mode"},
		{"capture", nil, []string{"-capture", "webcam"}, "invalid capture mode"},
		{"log level", map[string]string{envLogLevel: "loud"}, nil, "invalid log level"},
		{"log format", map[string]string{envLogFormat: "xml"}, nil, "invalid log format"},
		{"redis db", map[string]string{envRedisDB: "one"}, nil, envRedisDB},
		{"half port range", map[string]string{envUDPPortMin: "40000"}, nil, "must be set together"},
		{"inverted port range", map[string]string{envUDPPortMin: "5000", envUDPPortMax: "4000"}, nil, "is empty"},
		{"port out of range", map[string]string{envUDPPortMin: "70000", envUDPPortMax: "70001"}, nil, "out of range"},
		{"backoff", map[string]string{envResubscribeMin: "10s", envResubscribeMax: "1s"}, nil, "invalid resubscribe backoff"},
		{"duration", map[string]string{envShutdownTimeout: "soon"}, nil, envShutdownTimeout},
		{"unknown flag", nil, []string{"-nope"}, "not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(lookupMap(tt.env), tt.args)
			if err == nil {
				t.Fatalf("load succeeded, want error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: zerolog.WarnLevel, LogFormat: LogFormatJSON}
	l := cfg.Logger(&buf)
	l.Info().Msg("quiet")
	l.Warn().Str("peer_id", "bob").Msg("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"peer_id":"bob"`) || !strings.Contains(out, `"message":"loud"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
