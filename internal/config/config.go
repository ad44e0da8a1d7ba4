package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port  int
	Debug bool

	// Phase library
	PhasesPath    string
	StartingPhase string

	// Fade behavior
	MinFade            time.Duration // shortest allowed crossfade
	MaxFade            time.Duration // longest allowed crossfade
	TransitionDuration time.Duration // default phase transition length

	// Auto-rotation
	AutoRotate bool
	DwellMin   time.Duration // min time in a phase before drifting
	DwellMax   time.Duration // max time in a phase before drifting
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:  envInt("STRATA_PORT", 8080),
		Debug: envBool("STRATA_DEBUG", false),

		PhasesPath:    envStr("STRATA_PHASES", "phases.yaml"),
		StartingPhase: envStr("STRATA_STARTING_PHASE", ""),

		MinFade:            envDuration("STRATA_MIN_FADE_MS", 100),
		MaxFade:            envDuration("STRATA_MAX_FADE_MS", 30000),
		TransitionDuration: envDuration("STRATA_TRANSITION_MS", 2000),

		AutoRotate: envBool("STRATA_AUTO_ROTATE", true),
		DwellMin:   time.Duration(envInt("STRATA_DWELL_MIN", 300)) * time.Second,
		DwellMax:   time.Duration(envInt("STRATA_DWELL_MAX", 900)) * time.Second,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration reads a millisecond count from the environment.
func envDuration(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}
