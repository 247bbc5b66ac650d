// Package config loads the environment-sourced runtime configuration. Every
// knob is an env var; invalid values refuse startup.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Donation holds the donation-platform transport settings.
type Donation struct {
	WSURL        string
	APIBase      string
	AccessToken  string
	UserID       int
	PollInterval time.Duration
	PollGrace    time.Duration
}

// LLM holds the plan-generation backend settings.
type LLM struct {
	Endpoint      string
	ModelID       string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	RetryAttempts int
}

// Renderer holds the drawing surface and timing settings.
type Renderer struct {
	CanvasW             int
	CanvasH             int
	WindowScale         int
	FrameRate           int
	DefaultStepDuration time.Duration
	ShowDuration        time.Duration
}

// API holds the control surface settings.
type API struct {
	Host      string
	Port      int
	JWTSecret string
}

// Config is the full runtime configuration.
type Config struct {
	Donation     Donation
	QueueMaxSize int
	LLM          LLM
	Renderer     Renderer
	API          API
	RulesFile    string
	JournalPath  string
	LogLevel     slog.Level
}

// Load reads configuration from the environment, applying defaults, and
// validates it. A returned error means the process must not start.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DA_POLL_INTERVAL_SEC", 30)
	v.SetDefault("DA_POLL_GRACE_SEC", 10)
	v.SetDefault("QUEUE_MAX_SIZE", 32)
	v.SetDefault("LLM_TEMPERATURE", 0.1)
	v.SetDefault("LLM_MAX_TOKENS", 1536)
	v.SetDefault("LLM_TIMEOUT_SEC", 30.0)
	v.SetDefault("LLM_RETRY_ATTEMPTS", 3)
	v.SetDefault("CANVAS_W", 96)
	v.SetDefault("CANVAS_H", 96)
	v.SetDefault("WINDOW_SCALE", 8)
	v.SetDefault("FRAME_RATE", 60)
	v.SetDefault("DEFAULT_STEP_DURATION_MS", 700)
	v.SetDefault("SHOW_DURATION_SEC", 90)
	v.SetDefault("API_HOST", "127.0.0.1")
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("JOURNAL_PATH", ".drawstream")
	v.SetDefault("LOG_LEVEL", "INFO")

	cfg := &Config{
		Donation: Donation{
			WSURL:        v.GetString("DA_WS_URL"),
			APIBase:      v.GetString("DA_API_BASE"),
			AccessToken:  v.GetString("DA_ACCESS_TOKEN"),
			UserID:       v.GetInt("DA_USER_ID"),
			PollInterval: time.Duration(v.GetInt("DA_POLL_INTERVAL_SEC")) * time.Second,
			PollGrace:    time.Duration(v.GetInt("DA_POLL_GRACE_SEC")) * time.Second,
		},
		QueueMaxSize: v.GetInt("QUEUE_MAX_SIZE"),
		LLM: LLM{
			Endpoint:      v.GetString("LLM_ENDPOINT"),
			ModelID:       v.GetString("LLM_MODEL_ID"),
			Temperature:   v.GetFloat64("LLM_TEMPERATURE"),
			MaxTokens:     v.GetInt("LLM_MAX_TOKENS"),
			Timeout:       time.Duration(v.GetFloat64("LLM_TIMEOUT_SEC") * float64(time.Second)),
			RetryAttempts: v.GetInt("LLM_RETRY_ATTEMPTS"),
		},
		Renderer: Renderer{
			CanvasW:             v.GetInt("CANVAS_W"),
			CanvasH:             v.GetInt("CANVAS_H"),
			WindowScale:         v.GetInt("WINDOW_SCALE"),
			FrameRate:           v.GetInt("FRAME_RATE"),
			DefaultStepDuration: time.Duration(v.GetInt("DEFAULT_STEP_DURATION_MS")) * time.Millisecond,
			ShowDuration:        time.Duration(v.GetInt("SHOW_DURATION_SEC")) * time.Second,
		},
		API: API{
			Host:      v.GetString("API_HOST"),
			Port:      v.GetInt("API_PORT"),
			JWTSecret: v.GetString("API_JWT_SECRET"),
		},
		RulesFile:   v.GetString("GATEKEEPER_RULES_FILE"),
		JournalPath: v.GetString("JOURNAL_PATH"),
	}

	level, err := parseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration can run the pipeline.
func (c *Config) Validate() error {
	positives := map[string]int{
		"QUEUE_MAX_SIZE": c.QueueMaxSize,
		"CANVAS_W":       c.Renderer.CanvasW,
		"CANVAS_H":       c.Renderer.CanvasH,
		"WINDOW_SCALE":   c.Renderer.WindowScale,
		"FRAME_RATE":     c.Renderer.FrameRate,
		"LLM_MAX_TOKENS": c.LLM.MaxTokens,
		"API_PORT":       c.API.Port,
	}
	for name, val := range positives {
		if val <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, val)
		}
	}
	if c.Donation.PollInterval <= 0 {
		return fmt.Errorf("config: DA_POLL_INTERVAL_SEC must be positive")
	}
	if c.Donation.PollGrace < 0 {
		return fmt.Errorf("config: DA_POLL_GRACE_SEC must be non-negative")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("config: LLM_TIMEOUT_SEC must be positive")
	}
	if c.LLM.RetryAttempts < 0 {
		return fmt.Errorf("config: LLM_RETRY_ATTEMPTS must be non-negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: LLM_TEMPERATURE %v out of range [0,2]", c.LLM.Temperature)
	}
	if c.Renderer.DefaultStepDuration <= 0 {
		return fmt.Errorf("config: DEFAULT_STEP_DURATION_MS must be positive")
	}
	if c.Renderer.ShowDuration <= 0 {
		return fmt.Errorf("config: SHOW_DURATION_SEC must be positive")
	}
	if c.Renderer.CanvasW > 512 || c.Renderer.CanvasH > 512 {
		return fmt.Errorf("config: canvas larger than 512 per side is not supported")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown LOG_LEVEL %q", s)
}

// Default returns a configuration suitable for tests: small canvas, fast
// timers, no external endpoints.
func Default() *Config {
	return &Config{
		Donation: Donation{
			PollInterval: 30 * time.Second,
			PollGrace:    10 * time.Second,
		},
		QueueMaxSize: 32,
		LLM: LLM{
			Temperature:   0.1,
			MaxTokens:     1536,
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
		},
		Renderer: Renderer{
			CanvasW:             96,
			CanvasH:             96,
			WindowScale:         8,
			FrameRate:           60,
			DefaultStepDuration: 700 * time.Millisecond,
			ShowDuration:        90 * time.Second,
		},
		API: API{
			Host: "127.0.0.1",
			Port: 8080,
		},
		JournalPath: ".drawstream",
		LogLevel:    slog.LevelInfo,
	}
}
