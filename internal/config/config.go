package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "NEWS_PIPELINE_CONFIG"
	stateDBPathEnv   = "STATE_DB_PATH"
	resultsDSNEnv    = "RESULTS_DSN"
	redisAddrEnv     = "REDIS_ADDR"
	openAIAPIKeyEnv  = "OPENAI_API_KEY"
	openAIModelEnv   = "OPENAI_MODEL"
	providerNameEnv  = "ANALYSIS_PROVIDER"
	localEndpointEnv = "LOCAL_LLM_ENDPOINT"
)

// Config holds high-level settings required across the application.
type Config struct {
	State    StateConfig    `yaml:"state"`
	Results  ResultsConfig  `yaml:"results"`
	Events   EventsConfig   `yaml:"events"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StateConfig describes the local pipeline-state database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ResultsConfig describes the downstream Postgres analytics store. An
// empty DSN disables result storage.
type ResultsConfig struct {
	DSN string `yaml:"dsn"`
}

// EventsConfig wires the optional Redis run-event channel. An empty
// address disables publishing.
type EventsConfig struct {
	RedisAddr string `yaml:"redisAddr"`
	Channel   string `yaml:"channel"`
}

// AnalysisConfig selects and configures the batch analysis provider.
type AnalysisConfig struct {
	Provider            string            `yaml:"provider"` // openai_batch or local
	PollIntervalSeconds int               `yaml:"pollIntervalSeconds"`
	MaxWaitSeconds      int               `yaml:"maxWaitSeconds"`
	OpenAI              OpenAIBatchConfig `yaml:"openai"`
	Local               LocalLLMConfig    `yaml:"local"`
}

// OpenAIBatchConfig defines how to contact the OpenAI Batch API.
type OpenAIBatchConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"apiKey"`
}

// LocalLLMConfig defines how to contact a local generate endpoint.
type LocalLLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// PipelineConfig tunes run execution.
type PipelineConfig struct {
	FilterWorkers int `yaml:"filterWorkers"`
	DefaultDays   int `yaml:"defaultDays"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PollInterval resolves the poll interval as a duration.
func (a AnalysisConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// MaxWait resolves the poll budget as a duration.
func (a AnalysisConfig) MaxWait() time.Duration {
	return time.Duration(a.MaxWaitSeconds) * time.Second
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(stateDBPathEnv); v != "" {
		c.State.Path = v
	}
	if v := os.Getenv(resultsDSNEnv); v != "" {
		c.Results.DSN = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Events.RedisAddr = v
	}
	if v := os.Getenv(providerNameEnv); v != "" {
		c.Analysis.Provider = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.Analysis.OpenAI.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.Analysis.OpenAI.Model = v
	}
	if v := os.Getenv(localEndpointEnv); v != "" {
		c.Analysis.Local.Endpoint = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.State.Path != "" {
		base.State = override.State
	}
	if override.Results.DSN != "" {
		base.Results = override.Results
	}

	if override.Events.RedisAddr != "" {
		base.Events.RedisAddr = override.Events.RedisAddr
	}
	if override.Events.Channel != "" {
		base.Events.Channel = override.Events.Channel
	}

	if override.Analysis.Provider != "" {
		base.Analysis.Provider = override.Analysis.Provider
	}
	if override.Analysis.PollIntervalSeconds > 0 {
		base.Analysis.PollIntervalSeconds = override.Analysis.PollIntervalSeconds
	}
	if override.Analysis.MaxWaitSeconds > 0 {
		base.Analysis.MaxWaitSeconds = override.Analysis.MaxWaitSeconds
	}
	if override.Analysis.OpenAI.BaseURL != "" {
		base.Analysis.OpenAI.BaseURL = override.Analysis.OpenAI.BaseURL
	}
	if override.Analysis.OpenAI.Model != "" {
		base.Analysis.OpenAI.Model = override.Analysis.OpenAI.Model
	}
	if override.Analysis.OpenAI.APIKey != "" {
		base.Analysis.OpenAI.APIKey = override.Analysis.OpenAI.APIKey
	}
	if override.Analysis.Local.Endpoint != "" {
		base.Analysis.Local.Endpoint = override.Analysis.Local.Endpoint
	}
	if override.Analysis.Local.Model != "" {
		base.Analysis.Local.Model = override.Analysis.Local.Model
	}

	if override.Pipeline.FilterWorkers > 0 {
		base.Pipeline.FilterWorkers = override.Pipeline.FilterWorkers
	}
	if override.Pipeline.DefaultDays > 0 {
		base.Pipeline.DefaultDays = override.Pipeline.DefaultDays
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		State:   StateConfig{Path: "newspipeline.db"},
		Results: ResultsConfig{DSN: ""},
		Events:  EventsConfig{RedisAddr: "", Channel: "newspipeline:runs"},
		Analysis: AnalysisConfig{
			Provider:            "openai_batch",
			PollIntervalSeconds: 30,
			MaxWaitSeconds:      7200,
			OpenAI: OpenAIBatchConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
				APIKey:  "",
			},
			Local: LocalLLMConfig{
				Endpoint: "http://localhost:11434/api/generate",
				Model:    "llama3",
			},
		},
		Pipeline: PipelineConfig{FilterWorkers: 4, DefaultDays: 1},
		Logging:  LoggingConfig{Level: "info"},
	}
}
