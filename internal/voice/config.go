package voice

import (
	"fmt"
	"time"
)

// Config carries the session's tunables. The defaults reproduce the
// behaviour drivers are used to; none of them is load-bearing.
type Config struct {
	MinConfidence float64
	// OverrideWord lets an utterance bypass the confidence gate.
	OverrideWord string
	Debounce     time.Duration
	ClearAfter   time.Duration

	StartDelay        time.Duration
	RestartDelay      time.Duration
	RetryDelay        time.Duration
	NoSpeechDelay     time.Duration
	ErrorRestartDelay time.Duration

	Lang string
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.3,
		OverrideWord:      "stop",
		Debounce:          500 * time.Millisecond,
		ClearAfter:        time.Second,
		StartDelay:        100 * time.Millisecond,
		RestartDelay:      1500 * time.Millisecond,
		RetryDelay:        3000 * time.Millisecond,
		NoSpeechDelay:     100 * time.Millisecond,
		ErrorRestartDelay: 2000 * time.Millisecond,
		Lang:              "en-US",
	}
}

// Validate rejects configurations the session cannot run with.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0,1], got %v", c.MinConfidence)
	}
	if c.ClearAfter <= 0 {
		return fmt.Errorf("clear-after must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"debounce":            c.Debounce,
		"start delay":         c.StartDelay,
		"restart delay":       c.RestartDelay,
		"retry delay":         c.RetryDelay,
		"no-speech delay":     c.NoSpeechDelay,
		"error restart delay": c.ErrorRestartDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if c.Lang == "" {
		return fmt.Errorf("lang must not be empty")
	}
	return nil
}

func (c Config) recognizerOptions() Options {
	return Options{Continuous: true, InterimResults: true, Lang: c.Lang, MaxAlternatives: 1}
}
