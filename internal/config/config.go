package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Database   Database   `mapstructure:"database"`
	AI         AI         `mapstructure:"ai"`
	Feeds      Feeds      `mapstructure:"feeds"`
	Ingest     Ingest     `mapstructure:"ingest"`
	Search     Search     `mapstructure:"search"`
	Ranking    Ranking    `mapstructure:"ranking"`
	Resolve    Resolve    `mapstructure:"resolve"`
	Reputation Reputation `mapstructure:"reputation"`
	Crawl      Crawl      `mapstructure:"crawl"`
	Threading  Threading  `mapstructure:"threading"`
	Briefing   Briefing   `mapstructure:"briefing"`
	TTS        TTS        `mapstructure:"tts"`
	Retry      Retry      `mapstructure:"retry"`
	Cache      Cache      `mapstructure:"cache"`
	Server     Server     `mapstructure:"server"`
	PostHog    PostHog    `mapstructure:"posthog"`
	Logging    Logging    `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// Database holds Postgres connection settings
type Database struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	Timeout         string `mapstructure:"timeout"`
}

// AI holds model provider configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	VerifyModel         string  `mapstructure:"verify_model"`
	Timeout             string  `mapstructure:"timeout"`
	MaxTokens           int32   `mapstructure:"max_tokens"`
	Temperature         float32 `mapstructure:"temperature"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int32   `mapstructure:"embedding_dimensions"`
}

// OpenAIConfig holds OpenAI configuration used for speech
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
}

// FeedSource is one headline feed
type FeedSource struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Category string `mapstructure:"category"` // Label used when the item path carries no category
}

// Feeds holds RSS/feed configuration
type Feeds struct {
	Sources         []FeedSource `mapstructure:"sources"`
	UserAgent       string       `mapstructure:"user_agent"`
	Timeout         string       `mapstructure:"timeout"`
	MaxItemsPerFeed int          `mapstructure:"max_items_per_feed"`
}

// Ingest holds normalization rules
type Ingest struct {
	JunkPaths      []string `mapstructure:"junk_paths"`
	MinTitleLength int      `mapstructure:"min_title_length"`
	Retention      string   `mapstructure:"retention"`
}

// Search holds candidate search configuration
type Search struct {
	DefaultProvider string          `mapstructure:"default_provider"`
	MaxResults      int             `mapstructure:"max_results"`
	MaxQueryTerms   int             `mapstructure:"max_query_terms"`
	Timeout         string          `mapstructure:"timeout"`
	Concurrency     int             `mapstructure:"concurrency"`
	ItemDelay       string          `mapstructure:"item_delay"`
	QueryDelay      string          `mapstructure:"query_delay"`
	Language        string          `mapstructure:"language"`
	Region          string          `mapstructure:"region"`
	Providers       SearchProviders `mapstructure:"providers"`
}

// SearchProviders holds configuration for all search providers
type SearchProviders struct {
	GoogleNews GoogleNewsConfig `mapstructure:"google_news"`
	DuckDuckGo DuckDuckGoConfig `mapstructure:"duckduckgo"`
}

// GoogleNewsConfig holds Google News RSS search configuration
type GoogleNewsConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// DuckDuckGoConfig holds DuckDuckGo configuration
type DuckDuckGoConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	RateLimit string `mapstructure:"rate_limit"`
}

// Ranking holds candidate ranking thresholds
type Ranking struct {
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
}

// Resolve holds URL resolution settings
type Resolve struct {
	Timeout              string   `mapstructure:"timeout"`
	Concurrency          int      `mapstructure:"concurrency"`
	Delay                string   `mapstructure:"delay"`
	MaxRedirects         int      `mapstructure:"max_redirects"`
	SearchSurfaceDomains []string `mapstructure:"search_surface_domains"`
}

// Reputation holds domain gate settings
type Reputation struct {
	BlockFloor  float64 `mapstructure:"block_floor"`
	Z           float64 `mapstructure:"z"`
	MinAttempts int     `mapstructure:"min_attempts"`
	Window      string  `mapstructure:"window"` // Crawl history post-processing recounts from
}

// Crawl holds crawl and quality gate settings
type Crawl struct {
	Concurrency      int     `mapstructure:"concurrency"`
	Delay            string  `mapstructure:"delay"`
	Timeout          string  `mapstructure:"timeout"`
	UserAgent        string  `mapstructure:"user_agent"`
	ContentBudget    int     `mapstructure:"content_budget"`
	MinContentLength int     `mapstructure:"min_content_length"`
	AcceptThreshold  float64 `mapstructure:"accept_threshold"`
	RejectThreshold  float64 `mapstructure:"reject_threshold"`
	VerifyScoreFloor float64 `mapstructure:"verify_score_floor"`
}

// Threading holds story thread clustering settings
type Threading struct {
	MergeThreshold     float64 `mapstructure:"merge_threshold"`
	DriftTolerance     float64 `mapstructure:"drift_tolerance"`
	InactivityWindow   string  `mapstructure:"inactivity_window"`
	Lookback           string  `mapstructure:"lookback"`
	GroupingSimilarity float64 `mapstructure:"grouping_similarity"`
	LouvainResolution  float64 `mapstructure:"louvain_resolution"`
}

// Briefing holds daily briefing settings
type Briefing struct {
	Window   string   `mapstructure:"window"`
	Locales  []string `mapstructure:"locales"`
	MinItems int      `mapstructure:"min_items"`
	MaxItems int      `mapstructure:"max_items"`
	MinWords int      `mapstructure:"min_words"`
	MaxWords int      `mapstructure:"max_words"`
}

// TTS holds text-to-speech configuration
type TTS struct {
	DefaultProvider string       `mapstructure:"default_provider"`
	DefaultVoice    string       `mapstructure:"default_voice"`
	DefaultSpeed    float32      `mapstructure:"default_speed"`
	OutputDirectory string       `mapstructure:"output_directory"`
	Timeout         string       `mapstructure:"timeout"`
	Alignment       bool         `mapstructure:"alignment"`
	Providers       TTSProviders `mapstructure:"providers"`
}

// TTSProviders holds configuration for TTS providers
type TTSProviders struct {
	OpenAI     TTSOpenAIConfig     `mapstructure:"openai"`
	ElevenLabs TTSElevenLabsConfig `mapstructure:"elevenlabs"`
}

// TTSOpenAIConfig holds OpenAI TTS configuration
type TTSOpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// TTSElevenLabsConfig holds ElevenLabs configuration
type TTSElevenLabsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	Model   string `mapstructure:"model"`
}

// RetryPolicy is one capability's retry budget
type RetryPolicy struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   string  `mapstructure:"base_delay"`
	MaxDelay    string  `mapstructure:"max_delay"`
	Multiplier  float64 `mapstructure:"multiplier"`
	Jitter      float64 `mapstructure:"jitter"`
}

// Retry holds per-capability retry policies
type Retry struct {
	Search     RetryPolicy `mapstructure:"search"`
	Resolve    RetryPolicy `mapstructure:"resolve"`
	Crawl      RetryPolicy `mapstructure:"crawl"`
	Embed      RetryPolicy `mapstructure:"embed"`
	Verify     RetryPolicy `mapstructure:"verify"`
	Generate   RetryPolicy `mapstructure:"generate"`
	Synthesize RetryPolicy `mapstructure:"synthesize"`
	Align      RetryPolicy `mapstructure:"align"`
}

// Cache holds the local embedding cache location
type Cache struct {
	Directory string `mapstructure:"directory"`
	Enabled   bool   `mapstructure:"enabled"`
}

// Server holds read API settings
type Server struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

// PostHog holds run analytics settings
type PostHog struct {
	APIKey  string `mapstructure:"api_key"`
	Host    string `mapstructure:"host"`
	Enabled bool   `mapstructure:"enabled"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".storyline")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset drops the cached configuration and viper state. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".storyline")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.timeout", "5s")

	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.verify_model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dimensions", 768)
	viper.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("ai.openai.timeout", "120s")

	viper.SetDefault("feeds.user_agent", "Storyline/1.0 (+https://github.com/storyline)")
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.max_items_per_feed", 100)

	viper.SetDefault("ingest.junk_paths", []string{"/video/", "/videos/", "/podcast/", "/podcasts/", "/live/", "/sponsored/", "/advertorial/", "/horoscope/", "/quiz/"})
	viper.SetDefault("ingest.min_title_length", 12)
	viper.SetDefault("ingest.retention", "720h")

	viper.SetDefault("search.default_provider", "google_news")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.max_query_terms", 4)
	viper.SetDefault("search.timeout", "15s")
	viper.SetDefault("search.concurrency", 2)
	viper.SetDefault("search.item_delay", "1s")
	viper.SetDefault("search.query_delay", "500ms")
	viper.SetDefault("search.language", "en")
	viper.SetDefault("search.region", "US")
	viper.SetDefault("search.providers.google_news.base_url", "https://news.google.com/rss/search")
	viper.SetDefault("search.providers.duckduckgo.base_url", "https://html.duckduckgo.com/html/")
	viper.SetDefault("search.providers.duckduckgo.rate_limit", "1s")

	viper.SetDefault("ranking.top_k", 5)
	viper.SetDefault("ranking.min_score", 0.3)

	viper.SetDefault("resolve.timeout", "10s")
	viper.SetDefault("resolve.concurrency", 4)
	viper.SetDefault("resolve.delay", "250ms")
	viper.SetDefault("resolve.max_redirects", 10)
	viper.SetDefault("resolve.search_surface_domains", []string{"news.google.com", "duckduckgo.com", "html.duckduckgo.com"})

	viper.SetDefault("reputation.block_floor", 0.15)
	viper.SetDefault("reputation.z", 1.96)
	viper.SetDefault("reputation.min_attempts", 5)
	viper.SetDefault("reputation.window", "720h")

	viper.SetDefault("crawl.concurrency", 4)
	viper.SetDefault("crawl.delay", "500ms")
	viper.SetDefault("crawl.timeout", "20s")
	viper.SetDefault("crawl.user_agent", "Mozilla/5.0 (compatible; Storyline/1.0)")
	viper.SetDefault("crawl.content_budget", 800)
	viper.SetDefault("crawl.min_content_length", 300)
	viper.SetDefault("crawl.accept_threshold", 0.6)
	viper.SetDefault("crawl.reject_threshold", 0.35)
	viper.SetDefault("crawl.verify_score_floor", 6)

	viper.SetDefault("threading.merge_threshold", 0.62)
	viper.SetDefault("threading.drift_tolerance", 0.03)
	viper.SetDefault("threading.inactivity_window", "168h")
	viper.SetDefault("threading.lookback", "48h")
	viper.SetDefault("threading.grouping_similarity", 0.7)
	viper.SetDefault("threading.louvain_resolution", 1.0)

	viper.SetDefault("briefing.window", "24h")
	viper.SetDefault("briefing.locales", []string{"en"})
	viper.SetDefault("briefing.min_items", 15)
	viper.SetDefault("briefing.max_items", 30)
	viper.SetDefault("briefing.min_words", 700)
	viper.SetDefault("briefing.max_words", 1400)

	viper.SetDefault("tts.default_provider", "openai")
	viper.SetDefault("tts.default_voice", "alloy")
	viper.SetDefault("tts.default_speed", 1.0)
	viper.SetDefault("tts.output_directory", "audio")
	viper.SetDefault("tts.timeout", "180s")
	viper.SetDefault("tts.alignment", true)
	viper.SetDefault("tts.providers.openai.model", "tts-1")
	viper.SetDefault("tts.providers.elevenlabs.model", "eleven_multilingual_v2")

	setRetryDefaults("search", 3, "1s", "10s", 2, 0.2)
	setRetryDefaults("resolve", 2, "500ms", "5s", 2, 0.2)
	setRetryDefaults("crawl", 3, "1s", "15s", 2, 0.25)
	setRetryDefaults("embed", 4, "500ms", "20s", 2, 0.1)
	setRetryDefaults("verify", 3, "1s", "20s", 2, 0.1)
	setRetryDefaults("generate", 3, "2s", "30s", 2, 0.1)
	setRetryDefaults("synthesize", 2, "5s", "30s", 2, 0)
	setRetryDefaults("align", 2, "5s", "30s", 2, 0)

	viper.SetDefault("cache.directory", ".storyline/cache")
	viper.SetDefault("cache.enabled", true)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("posthog.host", "https://us.i.posthog.com")
	viper.SetDefault("posthog.enabled", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func setRetryDefaults(capability string, attempts int, base, max string, multiplier, jitter float64) {
	prefix := "retry." + capability + "."
	viper.SetDefault(prefix+"max_attempts", attempts)
	viper.SetDefault(prefix+"base_delay", base)
	viper.SetDefault(prefix+"max_delay", max)
	viper.SetDefault(prefix+"multiplier", multiplier)
	viper.SetDefault(prefix+"jitter", jitter)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("ai.openai.api_key", []string{
		"OPENAI_API_KEY",
	})

	bindEnvKeys("tts.providers.openai.api_key", []string{
		"OPENAI_API_KEY",
	})

	bindEnvKeys("tts.providers.elevenlabs.api_key", []string{
		"ELEVENLABS_API_KEY",
		"ELEVEN_LABS_API_KEY",
	})

	bindEnvKeys("database.url", []string{
		"DATABASE_URL",
		"POSTGRES_URL",
	})

	bindEnvKeys("posthog.api_key", []string{
		"POSTHOG_API_KEY",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"STORYLINE_DEBUG",
	})

	bindEnvKeys("search.default_provider", []string{
		"SEARCH_PROVIDER",
	})

	bindEnvKeys("logging.level", []string{
		"LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Cache.Directory != "" {
		config.Cache.Directory = expandPath(config.Cache.Directory)
	}
	if config.TTS.OutputDirectory != "" {
		config.TTS.OutputDirectory = expandPath(config.TTS.OutputDirectory)
	}

	durations := map[string]string{
		"database.conn_max_lifetime":  config.Database.ConnMaxLifetime,
		"database.timeout":            config.Database.Timeout,
		"ai.gemini.timeout":           config.AI.Gemini.Timeout,
		"ai.openai.timeout":           config.AI.OpenAI.Timeout,
		"feeds.timeout":               config.Feeds.Timeout,
		"ingest.retention":            config.Ingest.Retention,
		"search.timeout":              config.Search.Timeout,
		"search.item_delay":           config.Search.ItemDelay,
		"search.query_delay":          config.Search.QueryDelay,
		"resolve.timeout":             config.Resolve.Timeout,
		"resolve.delay":               config.Resolve.Delay,
		"reputation.window":           config.Reputation.Window,
		"crawl.timeout":               config.Crawl.Timeout,
		"crawl.delay":                 config.Crawl.Delay,
		"threading.inactivity_window": config.Threading.InactivityWindow,
		"threading.lookback":          config.Threading.Lookback,
		"briefing.window":             config.Briefing.Window,
		"tts.timeout":                 config.TTS.Timeout,
		"server.read_timeout":         config.Server.ReadTimeout,
		"server.write_timeout":        config.Server.WriteTimeout,
	}
	for name, p := range config.Retry.policies() {
		durations["retry."+name+".base_delay"] = p.BaseDelay
		durations["retry."+name+".max_delay"] = p.MaxDelay
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	for i, l := range config.Briefing.Locales {
		config.Briefing.Locales[i] = strings.ToLower(strings.TrimSpace(l))
	}

	return nil
}

func (r Retry) policies() map[string]RetryPolicy {
	return map[string]RetryPolicy{
		"search":     r.Search,
		"resolve":    r.Resolve,
		"crawl":      r.Crawl,
		"embed":      r.Embed,
		"verify":     r.Verify,
		"generate":   r.Generate,
		"synthesize": r.Synthesize,
		"align":      r.Align,
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig checks value ranges. API keys are checked when a client is built,
// so dry runs work without credentials.
func validateConfig(config *Config) error {
	var errors []string

	switch config.Search.DefaultProvider {
	case "google_news", "duckduckgo", "mock":
	default:
		errors = append(errors, fmt.Sprintf("Unknown search provider: %s. Supported: google_news, duckduckgo, mock", config.Search.DefaultProvider))
	}

	switch config.TTS.DefaultProvider {
	case "openai", "elevenlabs", "mock", "none":
	default:
		errors = append(errors, fmt.Sprintf("Unknown TTS provider: %s. Supported: openai, elevenlabs, mock, none", config.TTS.DefaultProvider))
	}

	if config.Ranking.TopK <= 0 {
		errors = append(errors, "ranking.top_k must be positive")
	}
	if !unit(config.Ranking.MinScore) {
		errors = append(errors, "ranking.min_score must be within [0,1]")
	}
	if !unit(config.Reputation.BlockFloor) {
		errors = append(errors, "reputation.block_floor must be within [0,1]")
	}
	if config.Reputation.MinAttempts < 0 {
		errors = append(errors, "reputation.min_attempts must not be negative")
	}
	if config.Crawl.RejectThreshold > config.Crawl.AcceptThreshold {
		errors = append(errors, "crawl.reject_threshold must not exceed crawl.accept_threshold")
	}
	if config.Crawl.VerifyScoreFloor < 0 || config.Crawl.VerifyScoreFloor > 10 {
		errors = append(errors, "crawl.verify_score_floor must be within [0,10]")
	}
	if config.Crawl.ContentBudget <= 0 {
		errors = append(errors, "crawl.content_budget must be positive")
	}
	if !unit(config.Threading.MergeThreshold) {
		errors = append(errors, "threading.merge_threshold must be within [0,1]")
	}
	if config.Threading.DriftTolerance < 0 {
		errors = append(errors, "threading.drift_tolerance must not be negative")
	}
	if config.Briefing.MinItems > config.Briefing.MaxItems {
		errors = append(errors, "briefing.min_items must not exceed briefing.max_items")
	}
	if len(config.Briefing.Locales) == 0 {
		errors = append(errors, "briefing.locales must list at least one locale")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// Duration parses a validated duration string, returning fallback when empty.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Convenience getters for commonly used configuration values
func GetApp() App               { return Get().App }
func GetAI() AI                 { return Get().AI }
func GetSearch() Search         { return Get().Search }
func GetCrawl() Crawl           { return Get().Crawl }
func GetThreading() Threading   { return Get().Threading }
func GetBriefing() Briefing     { return Get().Briefing }
func GetTTS() TTS               { return Get().TTS }
func GetLogging() Logging       { return Get().Logging }
func GetGeminiAPIKey() string   { return Get().AI.Gemini.APIKey }
func GetDatabaseURL() string    { return Get().Database.URL }
func GetSearchProvider() string { return Get().Search.DefaultProvider }
func IsDebugMode() bool         { return Get().App.Debug }

// HasValidGemini returns true if a usable Gemini key is configured
func HasValidGemini() bool {
	return isValidAPIKey(GetGeminiAPIKey())
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "your-openai-key",
		"YOUR_API_KEY", "PLACEHOLDER", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}
