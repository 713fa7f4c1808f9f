package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voice-drive-lab/internal/control"
	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/voice"
)

// Config is the cockpit server configuration, read from the environment.
type Config struct {
	Addr string

	Voice   voice.Config
	Control control.Params

	// Cockpit websocket
	WSMaxMessageBytes int64
	WSRateLimit       float64
	WSRateBurst       int
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration
	HandshakeTimeout  time.Duration

	// Server-side recognition; disabled when WhisperURL is empty.
	WhisperURL       string
	WhisperTimeout   time.Duration
	STTLanguage      string
	STTVADRMS        int
	STTSilence       time.Duration
	STTMaxUtterance  time.Duration
	STTNoSpeech      time.Duration
	STTMaxFrameBytes int

	// Utterance archive for server-side recognition; disabled when empty.
	STTSaveAudioDir       string
	STTSaveAudioRetention time.Duration
	STTSaveAudioMaxFiles  int

	DiscordToken     string
	DiscordChannelID string
	DiscordPrefix    string

	MCPEnabled     bool
	MetricsEnabled bool

	ShutdownGrace time.Duration
}

// Load reads the configuration. Unparseable values fall back to their
// defaults with a warning; values that cannot work are rejected.
func Load() (Config, error) {
	vd := voice.DefaultConfig()
	cp := control.DefaultParams()
	cfg := Config{
		Addr: envOr("DRIVE_ADDR", ":8080"),
		Voice: voice.Config{
			MinConfidence:     envFloat64Or("VOICE_MIN_CONFIDENCE", vd.MinConfidence),
			OverrideWord:      envOr("VOICE_OVERRIDE_WORD", vd.OverrideWord),
			Debounce:          envMillisOr("VOICE_DEBOUNCE_MS", vd.Debounce),
			ClearAfter:        envMillisOr("VOICE_CLEAR_MS", vd.ClearAfter),
			StartDelay:        envMillisOr("VOICE_START_DELAY_MS", vd.StartDelay),
			RestartDelay:      envMillisOr("VOICE_RESTART_DELAY_MS", vd.RestartDelay),
			RetryDelay:        envMillisOr("VOICE_RETRY_DELAY_MS", vd.RetryDelay),
			NoSpeechDelay:     envMillisOr("VOICE_NO_SPEECH_DELAY_MS", vd.NoSpeechDelay),
			ErrorRestartDelay: envMillisOr("VOICE_ERROR_RESTART_DELAY_MS", vd.ErrorRestartDelay),
			Lang:              envOr("VOICE_LANG", vd.Lang),
		},
		Control: control.Params{
			SteeringValue:   envFloat64Or("DRIVE_STEERING", cp.SteeringValue),
			EngineForceSlow: envFloat64Or("DRIVE_FORCE_SLOW", cp.EngineForceSlow),
			EngineForceFast: envFloat64Or("DRIVE_FORCE_FAST", cp.EngineForceFast),
			BrakeForce:      envFloat64Or("DRIVE_BRAKE", cp.BrakeForce),
			DriveWheels:     envIntsOr("DRIVE_WHEELS", cp.DriveWheels),
			StartPosition:   envVecOr("DRIVE_START_POSITION", cp.StartPosition),
			StartRotationY:  envFloat64Or("DRIVE_START_ROTATION_Y", cp.StartRotationY),
		},
		WSMaxMessageBytes:     envInt64Or("WS_MAX_MESSAGE_BYTES", 64*1024),
		WSRateLimit:           envFloat64Or("WS_RATE_LIMIT", 50),
		WSRateBurst:           envIntOr("WS_RATE_BURST", 100),
		WSWriteTimeout:        envMillisOr("WS_WRITE_TIMEOUT_MS", 5*time.Second),
		WSPingInterval:        envMillisOr("WS_PING_INTERVAL_MS", 20*time.Second),
		HandshakeTimeout:      envMillisOr("WS_HANDSHAKE_TIMEOUT_MS", 5*time.Second),
		WhisperURL:            envOr("WHISPER_URL", ""),
		WhisperTimeout:        envMillisOr("WHISPER_TIMEOUT_MS", 30*time.Second),
		STTLanguage:           envOr("STT_LANGUAGE", ""),
		STTVADRMS:             envIntOr("STT_VAD_RMS", 500),
		STTSilence:            envMillisOr("STT_SILENCE_MS", 700*time.Millisecond),
		STTMaxUtterance:       envMillisOr("STT_MAX_UTTERANCE_MS", 8*time.Second),
		STTNoSpeech:           envMillisOr("STT_NO_SPEECH_MS", 8*time.Second),
		STTMaxFrameBytes:      envIntOr("STT_MAX_FRAME_BYTES", 4000),
		STTSaveAudioDir:       envOr("STT_SAVE_AUDIO_DIR", ""),
		STTSaveAudioRetention: envMillisOr("STT_SAVE_AUDIO_RETENTION_MS", 24*time.Hour),
		STTSaveAudioMaxFiles:  envIntOr("STT_SAVE_AUDIO_MAX_FILES", 500),
		DiscordToken:          envOr("DISCORD_BOT_TOKEN", ""),
		DiscordChannelID:      envOr("DISCORD_CHANNEL_ID", ""),
		DiscordPrefix:         envOr("DISCORD_PREFIX", "!drive"),
		MCPEnabled:            envBoolOr("MCP_ENABLED", true),
		MetricsEnabled:        envBoolOr("METRICS_ENABLED", true),
		ShutdownGrace:         envMillisOr("SHUTDOWN_GRACE_MS", 10*time.Second),
	}

	if err := cfg.Voice.Validate(); err != nil {
		return Config{}, fmt.Errorf("voice: %w", err)
	}
	if err := cfg.Control.Validate(); err != nil {
		return Config{}, fmt.Errorf("control: %w", err)
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSRateLimit <= 0 || cfg.WSRateBurst <= 0 {
		return Config{}, fmt.Errorf("WS_RATE_LIMIT and WS_RATE_BURST must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 || cfg.WSPingInterval <= 0 || cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("websocket timeouts must be > 0")
	}
	if cfg.WhisperURL != "" && (cfg.STTSilence <= 0 || cfg.STTMaxUtterance <= 0 || cfg.STTNoSpeech <= 0) {
		return Config{}, fmt.Errorf("STT timings must be > 0 when WHISPER_URL is set")
	}
	if cfg.DiscordToken != "" && cfg.DiscordChannelID == "" {
		return Config{}, fmt.Errorf("DISCORD_CHANNEL_ID must be set when DISCORD_BOT_TOKEN is set")
	}
	return cfg, nil
}

// STTEnabled reports whether the server-side recognizer can be offered.
func (c Config) STTEnabled() bool { return c.WhisperURL != "" }

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logging.Warnw("invalid integer env value; using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logging.Warnw("invalid integer env value; using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logging.Warnw("invalid number env value; using default", "key", key, "value", raw, "default", def)
		return def
	}
	return f
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		logging.Warnw("invalid boolean env value; using default", "key", key, "value", raw, "default", def)
		return def
	}
}

// envMillisOr reads a plain millisecond count, or a Go duration string such
// as "1.5s".
func envMillisOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	logging.Warnw("invalid duration env value; using default", "key", key, "value", raw, "default_ms", def.Milliseconds())
	return def
}

func envIntsOr(key string, def []int) []int {
	parts := splitCSV(os.Getenv(key))
	if len(parts) == 0 {
		return def
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			logging.Warnw("invalid integer list env value; using default", "key", key, "value", p)
			return def
		}
		out = append(out, n)
	}
	return out
}

func envVecOr(key string, def control.Vec3) control.Vec3 {
	parts := splitCSV(os.Getenv(key))
	if len(parts) == 0 {
		return def
	}
	if len(parts) != 3 {
		logging.Warnw("expected x,y,z; using default", "key", key)
		return def
	}
	var xyz [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			logging.Warnw("invalid vector env value; using default", "key", key, "value", p)
			return def
		}
		xyz[i] = f
	}
	return control.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
