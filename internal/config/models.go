package config

import "time"

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	ListenAddress   string
	Mode            string
	ShutdownTimeout time.Duration
}

// PipelineConfig represents the ingestion pipeline configuration
type PipelineConfig struct {
	Query                   string
	MaxResults              int
	MaxStoredEmails         int
	Concurrency             int
	ForceRefreshMode        string
	HighConfidenceThreshold float64
	ProviderTimeout         time.Duration
}

// HeadersConfig represents the header authentication configuration
type HeadersConfig struct {
	UndeterminedPolicy string
}

// TranslateConfig represents the translation oracle configuration
type TranslateConfig struct {
	Enabled     bool
	URL         string
	APIKey      string
	Timeout     time.Duration
	LogSubjects bool
}

// NLPConfig represents the phishing classifier configuration
type NLPConfig struct {
	Provider      string
	URL           string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// ClassifyTimeout bounds one classification including retries, for every provider
	ClassifyTimeout time.Duration
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// StoreConfig represents the persistence configuration
type StoreConfig struct {
	Type        string
	SQLitePath  string
	MySQLDSN    string
	PostgresURL string
}

// SchedulerConfig represents the background auto-check configuration
type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
}

// OAuthConfig represents the OAuth client used to refresh stored tokens
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	ExpiryMargin time.Duration
}

// GetServer returns the server configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress:   c.GetString("server.listen_address"),
		Mode:            c.GetString("server.mode"),
		ShutdownTimeout: c.durationOr("server.shutdown_timeout", 10*time.Second),
	}
}

// GetPipeline returns the pipeline configuration
func (c *Config) GetPipeline() PipelineConfig {
	return PipelineConfig{
		Query:                   c.GetString("pipeline.query"),
		MaxResults:              c.GetInt("pipeline.max_results"),
		MaxStoredEmails:         c.GetInt("pipeline.max_stored_emails"),
		Concurrency:             c.GetInt("pipeline.concurrency"),
		ForceRefreshMode:        c.GetString("pipeline.force_refresh_mode"),
		HighConfidenceThreshold: c.GetFloat64("pipeline.high_confidence_threshold"),
		ProviderTimeout:         c.durationOr("pipeline.provider_timeout", 30*time.Second),
	}
}

// GetHeaders returns the header authentication configuration
func (c *Config) GetHeaders() HeadersConfig {
	return HeadersConfig{
		UndeterminedPolicy: c.GetString("headers.undetermined_policy"),
	}
}

// GetTranslate returns the translation oracle configuration
func (c *Config) GetTranslate() TranslateConfig {
	return TranslateConfig{
		Enabled: c.GetBool("translate.enabled"),
		URL:     c.GetString("translate.url"),
		APIKey:  c.GetString("translate.api_key"),
		Timeout: c.durationOr("translate.timeout", 10*time.Second),

		LogSubjects: c.GetBool("translate.log_subjects"),
	}
}

// GetNLP returns the phishing classifier configuration
func (c *Config) GetNLP() NLPConfig {
	return NLPConfig{
		Provider:      c.GetString("nlp.provider"),
		URL:           c.GetString("nlp.url"),
		Timeout:       c.durationOr("nlp.timeout", 10*time.Second),
		RetryAttempts: c.GetInt("nlp.retry_attempts"),
		RetryDelay:    c.durationOr("nlp.retry_delay", 200*time.Millisecond),

		ClassifyTimeout: c.durationOr("nlp.classify_timeout", 30*time.Second),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:        c.GetString("store.type"),
		SQLitePath:  c.GetString("store.sqlite_path"),
		MySQLDSN:    c.GetString("store.mysql_dsn"),
		PostgresURL: c.GetString("store.postgres_url"),
	}
}

// GetScheduler returns the background auto-check configuration
func (c *Config) GetScheduler() SchedulerConfig {
	return SchedulerConfig{
		Enabled:     c.GetBool("scheduler.enabled"),
		Interval:    c.durationOr("scheduler.interval", time.Minute),
		Concurrency: c.GetInt("scheduler.concurrency"),
	}
}

// GetOAuth returns the OAuth client configuration
func (c *Config) GetOAuth() OAuthConfig {
	return OAuthConfig{
		ClientID:     c.GetString("oauth.client_id"),
		ClientSecret: c.GetString("oauth.client_secret"),
		ExpiryMargin: c.durationOr("oauth.expiry_margin", 5*time.Minute),
	}
}

// GetTrustedDomains returns the trusted domains applied to every user
func (c *Config) GetTrustedDomains() []string {
	return c.GetStringSlice("trusted.domains")
}
