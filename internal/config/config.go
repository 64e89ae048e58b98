package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"casetriage/internal/domain"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Config struct {
	// LLMProviders is the failover order. Empty selects every provider with
	// an API key, anthropic first.
	LLMProviders []string `yaml:"llm_providers"`

	AnthropicAPIKey    string `yaml:"anthropic_api_key"`
	AnthropicBaseURL   string `yaml:"anthropic_base_url"`
	AnthropicModel     string `yaml:"anthropic_model"`
	AnthropicFastModel string `yaml:"anthropic_fast_model"`
	OpenAIAPIKey       string `yaml:"openai_api_key"`
	OpenAIBaseURL      string `yaml:"openai_base_url"`
	OpenAIModel        string `yaml:"openai_model"`
	OpenAIFastModel    string `yaml:"openai_fast_model"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold"`
	CircuitResetSeconds     int `yaml:"circuit_reset_seconds"`

	Thresholds domain.ClassificationThresholds `yaml:"thresholds"`

	BatchDelayMillis int `yaml:"batch_delay_ms"`
	BatchDelayAfter  int `yaml:"batch_delay_after"`

	DBPath            string `yaml:"db_path"`
	GlobalSourcesPath string `yaml:"global_sources_path"`
	SweepSchedule     string `yaml:"sweep_schedule"`
	SweepLimit        int    `yaml:"sweep_limit"`

	// ReviewReminderDay is a weekday name or "daily"; empty disables the reminder.
	ReviewReminderDay  string `yaml:"review_reminder_day"`
	ReviewReminderTime string `yaml:"review_reminder_time"`

	SlackBotToken        string   `yaml:"slack_bot_token"`
	SlackReviewChannelID string   `yaml:"slack_review_channel_id"`
	SlackReviewers       []string `yaml:"slack_reviewers"`

	HTTPAddr                   string `yaml:"http_addr"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig loads .env, the YAML file and environment overrides, and exits
// on invalid configuration.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: could not load .env: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg
}

// Load reads CONFIG_PATH (default config.yaml), applies environment
// overrides and defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverrideList(&cfg.LLMProviders, "LLM_PROVIDERS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	envOverride(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	envOverride(&cfg.AnthropicFastModel, "ANTHROPIC_FAST_MODEL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.OpenAIModel, "OPENAI_MODEL")
	envOverride(&cfg.OpenAIFastModel, "OPENAI_FAST_MODEL")
	envOverrideInt(&cfg.CircuitFailureThreshold, "CIRCUIT_FAILURE_THRESHOLD")
	envOverrideInt(&cfg.CircuitResetSeconds, "CIRCUIT_RESET_SECONDS")
	envOverrideFloat(&cfg.Thresholds.AutoAssign, "THRESHOLD_AUTO_ASSIGN")
	envOverrideFloat(&cfg.Thresholds.NeedsReview, "THRESHOLD_NEEDS_REVIEW")
	envOverrideFloat(&cfg.Thresholds.ActorMatchWeight, "WEIGHT_ACTOR_MATCH")
	envOverrideFloat(&cfg.Thresholds.ReferenceMatchWeight, "WEIGHT_REFERENCE_MATCH")
	envOverrideFloat(&cfg.Thresholds.KeywordMatchWeight, "WEIGHT_KEYWORD_MATCH")
	envOverrideFloat(&cfg.Thresholds.SemanticWeight, "WEIGHT_SEMANTIC")
	envOverrideInt(&cfg.BatchDelayMillis, "BATCH_DELAY_MS")
	envOverrideInt(&cfg.BatchDelayAfter, "BATCH_DELAY_AFTER")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.GlobalSourcesPath, "GLOBAL_SOURCES_PATH")
	envOverride(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	envOverrideInt(&cfg.SweepLimit, "SWEEP_LIMIT")
	envOverride(&cfg.ReviewReminderDay, "REVIEW_REMINDER_DAY")
	envOverride(&cfg.ReviewReminderTime, "REVIEW_REMINDER_TIME")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackReviewChannelID, "SLACK_REVIEW_CHANNEL_ID")
	envOverrideList(&cfg.SlackReviewers, "SLACK_REVIEWERS")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.Timezone, "TIMEZONE")

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.LLMProviders) == 0 {
		if c.AnthropicAPIKey != "" {
			c.LLMProviders = append(c.LLMProviders, ProviderAnthropic)
		}
		if c.OpenAIAPIKey != "" {
			c.LLMProviders = append(c.LLMProviders, ProviderOpenAI)
		}
	}
	for i, p := range c.LLMProviders {
		c.LLMProviders[i] = strings.ToLower(strings.TrimSpace(p))
	}

	defaults := domain.DefaultThresholds()
	setIfZero(&c.Thresholds.AutoAssign, defaults.AutoAssign)
	setIfZero(&c.Thresholds.NeedsReview, defaults.NeedsReview)
	setIfZero(&c.Thresholds.ActorMatchWeight, defaults.ActorMatchWeight)
	setIfZero(&c.Thresholds.ReferenceMatchWeight, defaults.ReferenceMatchWeight)
	setIfZero(&c.Thresholds.KeywordMatchWeight, defaults.KeywordMatchWeight)
	setIfZero(&c.Thresholds.SemanticWeight, defaults.SemanticWeight)

	if c.CircuitFailureThreshold == 0 {
		c.CircuitFailureThreshold = 3
	}
	if c.CircuitResetSeconds == 0 {
		c.CircuitResetSeconds = 60
	}
	if c.BatchDelayMillis == 0 {
		c.BatchDelayMillis = 500
	}
	if c.BatchDelayAfter == 0 {
		c.BatchDelayAfter = 10
	}
	if c.DBPath == "" {
		c.DBPath = "./casetriage.db"
	}
	if c.SweepLimit == 0 {
		c.SweepLimit = 200
	}
	if c.ReviewReminderTime == "" {
		c.ReviewReminderTime = "09:00"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
}

var reminderDays = map[string]bool{
	"daily": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true, "sunday": true,
}

func setIfZero(field *float64, def float64) {
	if *field == 0 {
		*field = def
	}
}

// Validate checks the loaded values and resolves Location.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.LLMProviders))
	for _, p := range c.LLMProviders {
		if seen[p] {
			return fmt.Errorf("llm_providers lists '%s' twice", p)
		}
		seen[p] = true
		switch p {
		case ProviderAnthropic:
			if c.AnthropicAPIKey == "" {
				return fmt.Errorf("anthropic_api_key is required when llm_providers includes anthropic")
			}
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("openai_api_key is required when llm_providers includes openai")
			}
		default:
			return fmt.Errorf("llm_providers entries must be 'anthropic' or 'openai', got '%s'", p)
		}
	}
	if len(c.LLMProviders) == 0 {
		log.Printf("WARNING: No LLM provider is configured. Semantic fallback is disabled.")
	}

	t := c.Thresholds
	for name, v := range map[string]float64{
		"auto_assign":            t.AutoAssign,
		"needs_review":           t.NeedsReview,
		"actor_match_weight":     t.ActorMatchWeight,
		"reference_match_weight": t.ReferenceMatchWeight,
		"keyword_match_weight":   t.KeywordMatchWeight,
		"semantic_weight":        t.SemanticWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid thresholds.%s '%g': must be between 0 and 1", name, v)
		}
	}
	if t.NeedsReview > t.AutoAssign {
		return fmt.Errorf("thresholds.needs_review (%g) must not exceed thresholds.auto_assign (%g)", t.NeedsReview, t.AutoAssign)
	}

	if c.CircuitFailureThreshold < 1 {
		return fmt.Errorf("invalid circuit_failure_threshold '%d': must be >= 1", c.CircuitFailureThreshold)
	}
	if c.CircuitResetSeconds < 1 {
		return fmt.Errorf("invalid circuit_reset_seconds '%d': must be >= 1", c.CircuitResetSeconds)
	}
	if c.BatchDelayMillis < 0 {
		return fmt.Errorf("invalid batch_delay_ms '%d': must be >= 0", c.BatchDelayMillis)
	}
	if c.BatchDelayAfter < 1 {
		return fmt.Errorf("invalid batch_delay_after '%d': must be >= 1", c.BatchDelayAfter)
	}
	if c.SweepLimit < 0 {
		return fmt.Errorf("invalid sweep_limit '%d': must be >= 0", c.SweepLimit)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.ReviewReminderDay != "" {
		day := strings.ToLower(c.ReviewReminderDay)
		if _, ok := reminderDays[day]; !ok {
			return fmt.Errorf("invalid review_reminder_day '%s': must be a weekday name or 'daily'", c.ReviewReminderDay)
		}
		c.ReviewReminderDay = day
	}
	var hour, min int
	if n, err := fmt.Sscanf(c.ReviewReminderTime, "%d:%d", &hour, &min); err != nil || n != 2 || hour < 0 || hour > 23 || min < 0 || min > 59 {
		return fmt.Errorf("invalid review_reminder_time '%s': expected HH:MM", c.ReviewReminderTime)
	}
	if c.SlackReviewChannelID != "" && c.SlackBotToken == "" {
		return fmt.Errorf("slack_bot_token is required when slack_review_channel_id is set")
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackReviewChannelID != ""
}

func (c Config) CircuitResetTimeout() time.Duration {
	return time.Duration(c.CircuitResetSeconds) * time.Second
}

func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMillis) * time.Millisecond
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideList(field *[]string, envKey string) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return
	}
	*field = nil
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*field = append(*field, v)
		}
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
