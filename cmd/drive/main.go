package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voice-drive-lab/internal/bridge"
	"github.com/voice-drive-lab/internal/codriver"
	"github.com/voice-drive-lab/internal/config"
	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/mcp"
	"github.com/voice-drive-lab/internal/metrics"
	"github.com/voice-drive-lab/internal/stt"
)

var version = "v0.0.0"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	cfg, err := config.Load()
	if err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}

	hub := bridge.NewHub()
	opts := bridge.Options{
		Voice:            cfg.Voice,
		Control:          cfg.Control,
		MaxMessageBytes:  cfg.WSMaxMessageBytes,
		RateLimit:        cfg.WSRateLimit,
		RateBurst:        cfg.WSRateBurst,
		WriteTimeout:     cfg.WSWriteTimeout,
		PingInterval:     cfg.WSPingInterval,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	if cfg.MetricsEnabled {
		m := metrics.New("drive")
		opts.Metrics = m
		mux.Handle("/metrics", m.Handler())
	}

	if cfg.STTEnabled() {
		opts.STT = &bridge.STT{
			Config: stt.Config{
				VADRMS:        cfg.STTVADRMS,
				Silence:       cfg.STTSilence,
				MaxUtterance:  cfg.STTMaxUtterance,
				NoSpeech:      cfg.STTNoSpeech,
				MaxFrameBytes: cfg.STTMaxFrameBytes,
			},
			Transcriber: stt.NewWhisperClient(cfg.WhisperURL, cfg.STTLanguage, cfg.WhisperTimeout),
			NewDecoder:  stt.NewOpusDecoder,
			Archive:     stt.NewArchive(cfg.STTSaveAudioDir, cfg.STTSaveAudioRetention, cfg.STTSaveAudioMaxFiles),
		}
		if a := opts.STT.Archive; a != nil {
			go a.RunCleaner(rootCtx, time.Minute)
			logging.Infow("archiving server-side utterances", "dir", a.Dir, "retention", a.Retention.String(), "max_files", a.MaxFiles)
		}
		if _, err := stt.NewOpusDecoder(); err != nil {
			logging.Warnw("server recognition configured but opus decoding is unavailable", "err", err)
		} else {
			logging.Infow("server recognition enabled", "whisper_url", cfg.WhisperURL)
		}
	}

	cockpits := bridge.NewServer(hub, opts)
	mux.Handle("/ws", cockpits)

	if cfg.MCPEnabled {
		mux.Handle("/mcp/ws", mcp.WebSocketHandler(mcp.NewServer(hub, version)))
	}

	var relay *codriver.Relay
	if cfg.DiscordToken != "" {
		relay, err = codriver.New(cfg.DiscordToken, cfg.DiscordChannelID, cfg.DiscordPrefix, hub)
		if err != nil {
			logging.FatalExitf("discordgo.New failed", "err", err)
		}
		if err := relay.Open(); err != nil {
			logging.FatalExitf("discord session open failed", "err", err)
		}
		logging.Infow("discord relay started", "channel.id", cfg.DiscordChannelID, "prefix", cfg.DiscordPrefix)
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logging.Infow("cockpit server listening", "addr", cfg.Addr, "mcp", cfg.MCPEnabled, "metrics", cfg.MetricsEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.FatalExitf("http server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logging.Infow("shutting down")
	rootCancel()

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Warnw("http shutdown error", "err", err)
		}
		// hijacked websockets are not covered by Shutdown
		cockpits.Close()
		if relay != nil {
			if err := relay.Close(); err != nil {
				logging.Warnw("discord session close error", "err", err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.ShutdownGrace):
		logging.Warnw("shutdown timed out; forcing exit", "grace", cfg.ShutdownGrace.String())
	}
}
