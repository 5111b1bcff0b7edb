package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Monitor cycle.
	Interval      time.Duration
	LeadMinutes   []int
	DecisionLead  int
	LocationsFile string
	Timezone      *time.Location

	HeartbeatEnabled bool
	HeartbeatTimes   []string

	// JMA tile source.
	JMABaseURL     string
	JMATimeout     time.Duration
	Zoom           int
	TargetTimesTTL time.Duration
	TileCacheSize  int
	StepScale      string

	// Alerting.
	AlertCooldown   time.Duration
	NotifyAllLevels bool

	// Notifier sinks.
	KafkaEnabled    bool
	KafkaBrokers    []string
	KafkaAlertTopic string
	WebhookURL      string
	WebhookTimeout  time.Duration

	// Heartbeat ledger; empty keeps it in memory.
	StateDBPath string

	// Debug overlays; empty dir disables them.
	DebugImagesDir  string
	DebugRetention  time.Duration
	DebugMaxFiles   int
	DebugMaxTotalMB int
}

const (
	minInterval = 3 * time.Minute
	maxInterval = 30 * time.Minute
)

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		LocationsFile:   sharedcfg.EnvOrDefault("LOCATIONS_FILE", "locations.yaml"),
		JMABaseURL:      strings.TrimRight(sharedcfg.EnvOrDefault("JMA_BASE_URL", "https://www.jma.go.jp/bosai/jmatile/data/nowc"), "/"),
		StepScale:       sharedcfg.EnvOrDefault("STEP_SCALE", "banded"),
		KafkaBrokers:    sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaAlertTopic: sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "rain-alerts"),
		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		StateDBPath:     os.Getenv("STATE_DB_PATH"),
		DebugImagesDir:  os.Getenv("DEBUG_IMAGES_DIR"),
	}

	durations := []struct {
		name, def string
		dst       *time.Duration
		allowZero bool
	}{
		{"MONITOR_INTERVAL", "3m", &cfg.Interval, false},
		{"JMA_TIMEOUT", "10s", &cfg.JMATimeout, false},
		{"TARGET_TIMES_TTL", "60s", &cfg.TargetTimesTTL, true},
		{"ALERT_COOLDOWN", "0s", &cfg.AlertCooldown, true},
		{"WEBHOOK_TIMEOUT", "10s", &cfg.WebhookTimeout, false},
		{"DEBUG_RETENTION", "12h", &cfg.DebugRetention, true},
	}
	for _, d := range durations {
		v, err := parseDuration(d.name, d.def, d.allowZero)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	ints := []struct {
		name string
		def  int
		dst  *int
	}{
		{"JMA_ZOOM", 10, &cfg.Zoom},
		{"TILE_CACHE_SIZE", 64, &cfg.TileCacheSize},
		{"DEBUG_MAX_FILES", 500, &cfg.DebugMaxFiles},
		{"DEBUG_MAX_TOTAL_MB", 200, &cfg.DebugMaxTotalMB},
	}
	for _, n := range ints {
		v, err := parsePositiveInt(n.name, n.def)
		if err != nil {
			return nil, err
		}
		*n.dst = v
	}

	bools := []struct {
		name string
		def  bool
		dst  *bool
	}{
		{"HEARTBEAT_ENABLED", true, &cfg.HeartbeatEnabled},
		{"NOTIFY_ALL_LEVELS", false, &cfg.NotifyAllLevels},
		{"KAFKA_ENABLED", false, &cfg.KafkaEnabled},
	}
	for _, b := range bools {
		v, err := parseBool(b.name, b.def)
		if err != nil {
			return nil, err
		}
		*b.dst = v
	}

	if cfg.LeadMinutes, err = parseLeads(sharedcfg.EnvOrDefault("LEAD_MINUTES", "0,15,30,60")); err != nil {
		return nil, err
	}
	if cfg.DecisionLead, err = strconv.Atoi(sharedcfg.EnvOrDefault("DECISION_LEAD_MINUTES", "0")); err != nil {
		return nil, errors.New("invalid DECISION_LEAD_MINUTES")
	}
	if cfg.Timezone, err = time.LoadLocation(sharedcfg.EnvOrDefault("TIMEZONE", "Asia/Tokyo")); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.HeartbeatTimes = splitList(sharedcfg.EnvOrDefault("HEARTBEAT_TIMES", "09:00,17:00"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Interval < minInterval || c.Interval > maxInterval {
		return fmt.Errorf("MONITOR_INTERVAL must be between %s and %s", minInterval, maxInterval)
	}
	if c.Zoom < 1 || c.Zoom > 14 {
		return errors.New("JMA_ZOOM must be between 1 and 14")
	}
	if !slices.Contains(c.LeadMinutes, c.DecisionLead) {
		return errors.New("DECISION_LEAD_MINUTES must be one of LEAD_MINUTES")
	}
	switch strings.ToLower(c.StepScale) {
	case "banded", "jma_bins", "linear", "identity":
	default:
		return errors.New("STEP_SCALE must be banded or linear")
	}
	for _, t := range c.HeartbeatTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("invalid HEARTBEAT_TIMES entry %q", t)
		}
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if c.KafkaAlertTopic == "" {
			return errors.New("KAFKA_ALERT_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
		return errors.New("WEBHOOK_URL must be an http(s) URL")
	}
	return nil
}

func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

// parseLeads parses a comma-separated lead list. Leads must be multiples of 5
// in 0..60; duplicates are dropped.
func parseLeads(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 60 || n%5 != 0 {
			return nil, fmt.Errorf("invalid LEAD_MINUTES entry %q", part)
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("LEAD_MINUTES is required")
	}
	return out, nil
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
