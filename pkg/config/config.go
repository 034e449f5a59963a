package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider string `yaml:"provider"`
	} `yaml:"llm"`

	VLLM        EndpointConfig `yaml:"vllm"`
	APIEndpoint EndpointConfig `yaml:"api-endpoint"`
	Ollama      EndpointConfig `yaml:"ollama"`

	Generation GenerationConfig `yaml:"generation"`
	Curate     CurateConfig     `yaml:"curate"`

	Format struct {
		Default    string `yaml:"default"`
		PrettyJSON *bool  `yaml:"pretty_json"`
	} `yaml:"format"`

	// Prompts overrides prompt templates by name.
	Prompts map[string]string `yaml:"prompts"`

	Paths struct {
		Input     string `yaml:"input"`
		Parsed    string `yaml:"parsed"`
		Generated string `yaml:"generated"`
		Curated   string `yaml:"curated"`
		Final     string `yaml:"final"`
	} `yaml:"paths"`

	Ingest struct {
		TikaURL        string   `yaml:"tika_url"`
		MaxDepth       int      `yaml:"max_depth"`
		RateLimit      float64  `yaml:"rate_limit"`
		Timeout        float64  `yaml:"timeout"`
		IgnorePatterns []string `yaml:"ignore_patterns"`
	} `yaml:"ingest"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Log LogOptions `yaml:"-"`
}

// EndpointConfig is the connection block of one generation provider.
// Durations are in seconds.
type EndpointConfig struct {
	APIBase    string  `yaml:"api_base"`
	APIKey     string  `yaml:"api_key"`
	Model      string  `yaml:"model"`
	MaxRetries int     `yaml:"max_retries"`
	RetryDelay float64 `yaml:"retry_delay"`
	Timeout    float64 `yaml:"timeout"`
}

type GenerationConfig struct {
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	MaxTokens         int     `yaml:"max_tokens"`
	ChunkSize         int     `yaml:"chunk_size"`
	Overlap           int     `yaml:"overlap"`
	BatchSize         int     `yaml:"batch_size"`
	SingleCallMaxSize int     `yaml:"single_call_max_size"`
	NumPairs          int     `yaml:"num_pairs"`
	NumCotExamples    int     `yaml:"num_cot_examples"`
	// BatchPause is the spacing between batch groups in seconds. Zero keeps
	// the provider default.
	BatchPause float64 `yaml:"batch_pause"`
}

type CurateConfig struct {
	Threshold   float64 `yaml:"threshold"`
	BatchSize   int     `yaml:"batch_size"`
	Temperature float64 `yaml:"temperature"`
}

// LogOptions selects the log level. It is set from flags or the
// environment, never from the config file.
type LogOptions struct {
	Verbose bool
	Debug   bool
}

// env is the environment overlay.
type env struct {
	Provider       string `envconfig:"LLM_PROVIDER"`
	APIEndpointKey string `envconfig:"API_ENDPOINT_KEY"`
	VLLMBaseURL    string `envconfig:"VLLM_BASE_URL"`
	OllamaBaseURL  string `envconfig:"OLLAMA_BASE_URL"`
	TikaURL        string `envconfig:"TIKA_URL"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	Verbose        bool   `envconfig:"SDK_VERBOSE"`
	Debug          bool   `envconfig:"SDK_DEBUG"`
}

// DefaultLocations are searched in order when LoadConfig gets no path.
func DefaultLocations() []string {
	return []string{
		"config.yaml",
		"config.yml",
		filepath.Join("configs", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config/synthdata/config.yaml"),
		"/etc/synthdata/config.yaml",
	}
}

func LoadConfig(path string) (*Config, error) {
	if path == "" {
		for _, loc := range DefaultLocations() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}
	applyDefaults(config)

	return config, nil
}

// newConfig presets the settings for which zero is a meaningful value, so
// only keys absent from the file keep the default.
func newConfig() *Config {
	config := &Config{}
	config.Generation.Temperature = 0.7
	config.Generation.Overlap = 200
	return config
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	if err := mergeWithEnv(config); err != nil {
		return nil, err
	}
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "vllm"
	}

	if config.VLLM.APIBase == "" {
		config.VLLM.APIBase = "http://localhost:8000/v1"
	}
	if config.VLLM.Model == "" {
		config.VLLM.Model = "meta-llama/Llama-3.3-70B-Instruct"
	}
	if config.VLLM.Timeout == 0 {
		config.VLLM.Timeout = 180
	}

	if config.APIEndpoint.APIBase == "" {
		config.APIEndpoint.APIBase = "https://api.llama.com/v1"
	}
	if config.APIEndpoint.Model == "" {
		config.APIEndpoint.Model = "Llama-4-Maverick-17B-128E-Instruct-FP8"
	}
	if config.APIEndpoint.Timeout == 0 {
		config.APIEndpoint.Timeout = 120
	}

	if config.Ollama.APIBase == "" {
		config.Ollama.APIBase = "http://localhost:11434"
	}
	if config.Ollama.Model == "" {
		config.Ollama.Model = "mistral"
	}
	if config.Ollama.Timeout == 0 {
		config.Ollama.Timeout = 180
	}

	for _, e := range []*EndpointConfig{&config.VLLM, &config.APIEndpoint, &config.Ollama} {
		if e.MaxRetries == 0 {
			e.MaxRetries = 3
		}
		if e.RetryDelay == 0 {
			e.RetryDelay = 1.0
		}
	}

	g := &config.Generation
	if g.TopP == 0 {
		g.TopP = 0.95
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 4096
	}
	if g.ChunkSize == 0 {
		g.ChunkSize = 4000
	}
	if g.BatchSize == 0 {
		g.BatchSize = 32
	}
	if g.SingleCallMaxSize == 0 {
		g.SingleCallMaxSize = 8000
	}
	if g.NumPairs == 0 {
		g.NumPairs = 25
	}
	if g.NumCotExamples == 0 {
		g.NumCotExamples = 5
	}

	if config.Curate.Threshold == 0 {
		config.Curate.Threshold = 7.0
	}
	if config.Curate.BatchSize == 0 {
		config.Curate.BatchSize = 32
	}
	if config.Curate.Temperature == 0 {
		config.Curate.Temperature = 0.1
	}

	if config.Format.Default == "" {
		config.Format.Default = "jsonl"
	}
	if config.Format.PrettyJSON == nil {
		pretty := true
		config.Format.PrettyJSON = &pretty
	}

	if config.Paths.Input == "" {
		config.Paths.Input = "data/input"
	}
	if config.Paths.Parsed == "" {
		config.Paths.Parsed = "data/parsed"
	}
	if config.Paths.Generated == "" {
		config.Paths.Generated = "data/generated"
	}
	if config.Paths.Curated == "" {
		config.Paths.Curated = "data/curated"
	}
	if config.Paths.Final == "" {
		config.Paths.Final = "data/final"
	}

	if config.Ingest.TikaURL == "" {
		config.Ingest.TikaURL = "http://localhost:9998"
	}
	if config.Ingest.RateLimit == 0 {
		config.Ingest.RateLimit = 2.0
	}
	if config.Ingest.Timeout == 0 {
		config.Ingest.Timeout = 30
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "datasets"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 5000
	}
}

func mergeWithEnv(config *Config) error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}

	if e.Provider != "" {
		config.LLM.Provider = e.Provider
	}
	if e.APIEndpointKey != "" {
		config.APIEndpoint.APIKey = e.APIEndpointKey
	}
	if e.VLLMBaseURL != "" {
		config.VLLM.APIBase = e.VLLMBaseURL
	}
	if e.OllamaBaseURL != "" {
		config.Ollama.APIBase = e.OllamaBaseURL
	}
	if e.TikaURL != "" {
		config.Ingest.TikaURL = e.TikaURL
	}
	if e.DatabaseURL != "" {
		config.Database.URL = e.DatabaseURL
	}
	config.Log.Verbose = config.Log.Verbose || e.Verbose
	config.Log.Debug = config.Log.Debug || e.Debug
	return nil
}

// Endpoint returns the connection block of the selected provider.
func (c *Config) Endpoint() EndpointConfig {
	switch c.LLM.Provider {
	case "api-endpoint":
		return c.APIEndpoint
	case "ollama":
		return c.Ollama
	default:
		return c.VLLM
	}
}

// Pretty reports whether JSON outputs are indented.
func (c *Config) Pretty() bool {
	return c.Format.PrettyJSON == nil || *c.Format.PrettyJSON
}
