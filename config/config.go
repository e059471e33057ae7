// Package config loads the engine configuration from a TOML file.
//
// Example:
//
//	[embedding]
//	provider = "ollama"
//	base_url = "http://localhost:11434"
//	model = "mxbai-embed-large"
//	dimension = 1024
//	timeout = "10s"
//
//	[generation]
//	provider = "ollama"
//	model = "mistral:latest"
//
//	[index]
//	backend = "bolt"
//	path = "skillsynth.db"
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/skillsynth/credentials"
	"github.com/vinayprograms/skillsynth/errors"
)

// Duration is a time.Duration decoded from a TOML string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete engine configuration.
type Config struct {
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Generation GenerationConfig `toml:"generation"`
	Index      IndexConfig      `toml:"index"`
	Ingest     IngestConfig     `toml:"ingest"`
	Match      MatchConfig      `toml:"match"`
	Resilience ResilienceConfig `toml:"resilience"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Server     ServerConfig     `toml:"server"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider  string   `toml:"provider"` // ollama, openai, mock
	BaseURL   string   `toml:"base_url"`
	Model     string   `toml:"model"`
	Dimension int      `toml:"dimension"`
	Timeout   Duration `toml:"timeout"`
	APIKey    string   `toml:"api_key"`
}

// GenerationConfig selects and configures the text generation backend.
type GenerationConfig struct {
	Provider   string   `toml:"provider"` // ollama, openai, anthropic, google, mock
	BaseURL    string   `toml:"base_url"`
	Model      string   `toml:"model"`
	MaxTokens  int      `toml:"max_tokens"`
	Timeout    Duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
	APIKey     string   `toml:"api_key"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string   `toml:"backend"` // memory, bolt, nats, pinecone
	Path    string   `toml:"path"`    // bolt file
	Timeout Duration `toml:"timeout"`

	NATSURL      string `toml:"nats_url"`
	BucketPrefix string `toml:"bucket_prefix"`

	// Pinecone keeps one index per namespace, each with its own data-plane host.
	PineconeHosts map[string]string `toml:"pinecone_hosts"`
	APIKey        string            `toml:"api_key"`
}

// IngestConfig tunes the ingestion pipelines.
type IngestConfig struct {
	Workers int `toml:"workers"`
}

// MatchConfig holds matching defaults.
type MatchConfig struct {
	SkillTopK   int    `toml:"skill_top_k"`
	UserTopK    int    `toml:"user_top_k"`
	MaxTopK     int    `toml:"max_top_k"`    // requests above this are clamped
	SkillAnchor string `toml:"skill_anchor"` // keep, exclude
}

// ResilienceConfig tunes retries, circuit breaking and rate limiting.
type ResilienceConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	InitBackoff      Duration `toml:"init_backoff"`
	MaxBackoff       Duration `toml:"max_backoff"`
	BreakerThreshold uint32   `toml:"breaker_threshold"`
	BreakerTimeout   Duration `toml:"breaker_timeout"`

	// Requests per second per upstream; 0 disables limiting.
	EmbedRate    float64 `toml:"embed_rate"`
	GenerateRate float64 `toml:"generate_rate"`
	IndexRate    float64 `toml:"index_rate"`
}

// CatalogConfig enables the full-text skill catalog.
type CatalogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // empty means in-memory
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	Protocol    string  `toml:"protocol"` // grpc, http
	ServiceName string  `toml:"service_name"`
	Insecure    bool    `toml:"insecure"`
	SampleRate  float64 `toml:"sample_rate"`
}

// ServerConfig configures the JSON-RPC front end.
type ServerConfig struct {
	Transport string `toml:"transport"` // stdio, websocket
	Addr      string `toml:"addr"`
}

// Default returns the configuration used when no file overrides a value.
// The defaults reproduce a local Ollama deployment with an in-memory index.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "mxbai-embed-large",
			Dimension: 1024,
			Timeout:   Duration{10 * time.Second},
		},
		Generation: GenerationConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "mistral:latest",
			MaxTokens: 2048,
			Timeout:   Duration{30 * time.Second},
		},
		Index: IndexConfig{
			Backend:      "memory",
			Path:         "skillsynth.db",
			Timeout:      Duration{10 * time.Second},
			NATSURL:      "nats://127.0.0.1:4222",
			BucketPrefix: "skillsynth",
		},
		Ingest: IngestConfig{Workers: 4},
		Match: MatchConfig{
			SkillTopK:   3,
			UserTopK:    15,
			MaxTopK:     1000,
			SkillAnchor: "keep",
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			InitBackoff:      Duration{time.Second},
			MaxBackoff:       Duration{10 * time.Second},
			BreakerThreshold: 5,
			BreakerTimeout:   Duration{30 * time.Second},
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "skillsynth",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      ":8080",
		},
	}
}

// Load reads a TOML file on top of Default, fills API keys from the
// environment and credentials.toml, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decode config "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.InvalidInput("unknown config keys: " + strings.Join(keys, ", "))
	}

	creds, _, err := credentials.Load()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "load credentials")
	}
	cfg.ResolveKeys(creds)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveKeys fills empty api_key fields. Priority: the config file,
// SKILLSYNTH_<SECTION>_API_KEY, then credentials (which falls back to the
// provider's own variable such as PINECONE_API_KEY).
func (c *Config) ResolveKeys(creds *credentials.Credentials) {
	c.Embedding.APIKey = resolveKey(c.Embedding.APIKey, "EMBEDDING", c.Embedding.Provider, creds)
	c.Generation.APIKey = resolveKey(c.Generation.APIKey, "GENERATION", c.Generation.Provider, creds)
	if c.Index.Backend == "pinecone" {
		c.Index.APIKey = resolveKey(c.Index.APIKey, "INDEX", "pinecone", creds)
	}
}

func resolveKey(current, section, provider string, creds *credentials.Credentials) string {
	if current != "" {
		return current
	}
	if v := os.Getenv("SKILLSYNTH_" + section + "_API_KEY"); v != "" {
		return v
	}
	switch provider {
	case "mock", "":
		return ""
	}
	return creds.GetAPIKey(provider)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "mock":
	default:
		add("embedding.provider %q not supported", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		add("embedding.dimension must be positive")
	}

	switch c.Generation.Provider {
	case "ollama", "openai", "mock":
	case "anthropic", "google":
		if c.Generation.APIKey == "" {
			add("generation.api_key required for provider %q", c.Generation.Provider)
		}
	default:
		add("generation.provider %q not supported", c.Generation.Provider)
	}
	if c.Generation.MaxRetries < 0 {
		add("generation.max_retries must not be negative")
	}

	switch c.Index.Backend {
	case "memory":
	case "bolt":
		if c.Index.Path == "" {
			add("index.path required for bolt backend")
		}
	case "nats":
		if c.Index.NATSURL == "" {
			add("index.nats_url required for nats backend")
		}
	case "pinecone":
		if c.Index.APIKey == "" {
			add("index.api_key (or PINECONE_API_KEY) required for pinecone backend")
		}
		for _, ns := range []string{"skills", "users"} {
			if c.Index.PineconeHosts[ns] == "" {
				add("index.pinecone_hosts.%s required for pinecone backend", ns)
			}
		}
	default:
		add("index.backend %q not supported", c.Index.Backend)
	}

	if c.Ingest.Workers <= 0 {
		add("ingest.workers must be positive")
	}
	if c.Match.MaxTopK <= 0 {
		add("match.max_top_k must be positive")
	} else if c.Match.SkillTopK > c.Match.MaxTopK || c.Match.UserTopK > c.Match.MaxTopK {
		add("match.skill_top_k and match.user_top_k must not exceed match.max_top_k")
	}
	switch c.Match.SkillAnchor {
	case "keep", "exclude":
	default:
		add("match.skill_anchor must be keep or exclude")
	}

	if c.Embedding.Timeout.Duration <= 0 {
		add("embedding.timeout must be positive")
	}
	if c.Generation.Timeout.Duration <= 0 {
		add("generation.timeout must be positive")
	}
	if c.Index.Timeout.Duration <= 0 {
		add("index.timeout must be positive")
	}

	switch c.Server.Transport {
	case "stdio", "websocket":
	default:
		add("server.transport %q not supported", c.Server.Transport)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		add("telemetry.protocol %q not supported", c.Telemetry.Protocol)
	}

	if len(problems) > 0 {
		return errors.InvalidInput("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}
