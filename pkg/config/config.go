package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/rahul/deepresearch/internal/governance"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// DEEPRESEARCH_SERVER_ADDR or DEEPRESEARCH_SEARCH_TAVILY_API_KEY.
const EnvPrefix = "DEEPRESEARCH"

type Config struct {
	App       AppConfig                 `mapstructure:"app"`
	Gateways  map[string]GatewayConfig  `mapstructure:"gateways"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Memory    MemoryConfig              `mapstructure:"memory"`
	Research  ResearchConfig            `mapstructure:"research"`
	Search    SearchConfig              `mapstructure:"search"`
	Server    ServerConfig              `mapstructure:"server"`
	Policy    governance.Rules          `mapstructure:"policy"`
}

type AppConfig struct {
	Name       string `mapstructure:"name"`
	LogLevel   string `mapstructure:"log_level"`
	LogDir     string `mapstructure:"log_dir"`
	PromptsDir string `mapstructure:"prompts_dir"`
}

type GatewayConfig struct {
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	Enabled bool   `mapstructure:"enabled"`
}

// MemoryConfig locates the run journal.
type MemoryConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

type ResearchConfig struct {
	MaxLoops            int      `mapstructure:"max_loops"`
	ResearchType        string   `mapstructure:"research_type"`
	ContextMessageLimit int      `mapstructure:"context_message_limit"`
	Temperature         *float64 `mapstructure:"temperature"`
	ToolIDs             []string `mapstructure:"tool_ids"`
	// Render enables headless-browser rendering for web_fetch.
	Render bool `mapstructure:"render"`
}

type SearchConfig struct {
	Backend      string `mapstructure:"backend"`
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "deepresearch")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.prompts_dir", "prompts")
	v.SetDefault("memory.type", "sqlite")
	v.SetDefault("memory.path", "deepresearch.db")
	v.SetDefault("research.max_loops", 4)
	v.SetDefault("research.research_type", "general")
	v.SetDefault("research.context_message_limit", 20)
	v.SetDefault("research.tool_ids", []string{"web_search", "web_fetch"})
	v.SetDefault("research.render", false)
	v.SetDefault("search.backend", "duckduckgo")
	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("gateways.telegram.token", "")
	v.SetDefault("gateways.telegram.enabled", false)
	v.SetDefault("policy.deny_tools", []string{})
	v.SetDefault("policy.deny_arguments", []string{})
	v.SetDefault("policy.deny_domains", []string{})
}

// Load reads the config file at path (JSON or YAML, by extension). With an
// empty path it looks for config.{json,yaml} in ./config and the working
// directory, and runs on defaults and environment when none is found.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Search.Backend) {
	case "", "duckduckgo", "tavily":
	default:
		return fmt.Errorf("search.backend: unknown backend %q", c.Search.Backend)
	}
	if strings.EqualFold(c.Search.Backend, "tavily") && c.Search.TavilyAPIKey == "" {
		return errors.New("search.tavily_api_key is required for the tavily backend")
	}
	if c.Research.MaxLoops < 0 {
		return errors.New("research.max_loops must not be negative")
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}
