package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"PointsLedger/internal/milestone"
	"PointsLedger/internal/oracle"
	"PointsLedger/internal/program"
	"PointsLedger/internal/withdrawal"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Ledger struct {
		BaseURL  string        `yaml:"base_url"`
		APIKey   string        `yaml:"api_key"`
		PageSize int           `yaml:"page_size"`
		Timeout  time.Duration `yaml:"timeout"`
		Mock     bool          `yaml:"mock"`
	} `yaml:"ledger"`
	Oracles struct {
		MinInterval time.Duration     `yaml:"min_interval"`
		Timeout     time.Duration     `yaml:"timeout"`
		Bridges     map[string]Bridge `yaml:"bridges"`
	} `yaml:"oracles"`
	Programs  []Program `yaml:"programs"`
	Seasons   []Season  `yaml:"seasons"`
	Scheduler struct {
		AlertAfter int  `yaml:"alert_after"`
		RunOnStart bool `yaml:"run_on_start"`
	} `yaml:"scheduler"`
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Database struct {
		// SQLitePath enables refresh history; empty disables it.
		SQLitePath string `yaml:"sqlite_path"`
		StateFile  string `yaml:"state_file"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Bridge is an oracle id published by one or more URLs whose values are
// summed. Labels and URLs pair up by index.
type Bridge struct {
	Labels []string `yaml:"labels"`
	URLs   []string `yaml:"urls"`
	Field  string   `yaml:"field"`
}

type Program struct {
	Name              string             `yaml:"name"`
	Interval          time.Duration      `yaml:"interval"`
	FetchTimeout      time.Duration      `yaml:"fetch_timeout"`
	Precision         int32              `yaml:"precision"`
	Tokens            []Token            `yaml:"tokens"`
	WithdrawalWindows withdrawal.Windows `yaml:"withdrawal_windows"`
}

type Token struct {
	Token   string `yaml:"token"`
	Project string `yaml:"project"`
	Oracle  string `yaml:"oracle"`
}

type Season struct {
	Name       string     `yaml:"name"`
	Schedule   string     `yaml:"schedule"`
	Categories []Category `yaml:"categories"`
}

type Category struct {
	Name       string   `yaml:"name"`
	RewardPool string   `yaml:"reward_pool"`
	Programs   []string `yaml:"programs"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("LEDGER_BASE_URL"); v != "" {
		cfg.Ledger.BaseURL = v
	}
	if v := os.Getenv("LEDGER_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("ALERT_AFTER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.AlertAfter = n
		}
	}

	// Defaults
	if cfg.Ledger.PageSize == 0 {
		cfg.Ledger.PageSize = 1000
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 30 * time.Second
	}
	if cfg.Oracles.MinInterval == 0 {
		cfg.Oracles.MinInterval = time.Second
	}
	if cfg.Oracles.Timeout == 0 {
		cfg.Oracles.Timeout = 15 * time.Second
	}
	for i := range cfg.Programs {
		p := &cfg.Programs[i]
		if p.Interval == 0 {
			p.Interval = 5 * time.Minute
		}
		if p.FetchTimeout == 0 {
			p.FetchTimeout = 2 * time.Minute
		}
	}
	if cfg.Scheduler.AlertAfter == 0 {
		cfg.Scheduler.AlertAfter = 3
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.StateFile == "" {
		cfg.Database.StateFile = "data/withdrawal_state.json"
	}

	return cfg, nil
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.Ledger.BaseURL == "" && !c.Ledger.Mock {
		return fmt.Errorf("ledger.base_url is required")
	}
	if c.Ledger.PageSize <= 0 {
		return fmt.Errorf("ledger.page_size must be positive")
	}

	for id, b := range c.Oracles.Bridges {
		if len(b.URLs) == 0 {
			return fmt.Errorf("oracles.bridges.%s: at least one url is required", id)
		}
		if len(b.Labels) != len(b.URLs) {
			return fmt.Errorf("oracles.bridges.%s: %d labels for %d urls", id, len(b.Labels), len(b.URLs))
		}
		if b.Field == "" {
			return fmt.Errorf("oracles.bridges.%s: field is required", id)
		}
	}

	if len(c.Programs) == 0 {
		return fmt.Errorf("at least one program is required")
	}
	programs := make(map[string]bool, len(c.Programs))
	for _, p := range c.Programs {
		if p.Name == "" {
			return fmt.Errorf("programs: name is required")
		}
		if programs[p.Name] {
			return fmt.Errorf("programs: duplicate name %q", p.Name)
		}
		programs[p.Name] = true
		if err := c.validateProgram(p); err != nil {
			return fmt.Errorf("programs.%s: %w", p.Name, err)
		}
	}

	seasons := make(map[string]bool, len(c.Seasons))
	for _, s := range c.Seasons {
		if s.Name == "" {
			return fmt.Errorf("seasons: name is required")
		}
		if seasons[s.Name] {
			return fmt.Errorf("seasons: duplicate name %q", s.Name)
		}
		seasons[s.Name] = true
		categories := make(map[string]bool, len(s.Categories))
		for _, cat := range s.Categories {
			if categories[cat.Name] {
				return fmt.Errorf("seasons.%s: duplicate category %q", s.Name, cat.Name)
			}
			categories[cat.Name] = true
			pool, err := decimal.NewFromString(cat.RewardPool)
			if err != nil {
				return fmt.Errorf("seasons.%s.%s: invalid reward_pool: %w", s.Name, cat.Name, err)
			}
			if pool.IsNegative() {
				return fmt.Errorf("seasons.%s.%s: reward_pool must not be negative", s.Name, cat.Name)
			}
			for _, name := range cat.Programs {
				if !programs[name] {
					return fmt.Errorf("seasons.%s.%s: unknown program %q", s.Name, cat.Name, name)
				}
			}
		}
	}
	return nil
}

func (c *Config) validateProgram(p Program) error {
	if p.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if p.Precision < 0 || p.Precision > 18 {
		return fmt.Errorf("precision must be between 0 and 18")
	}
	if len(p.Tokens) == 0 {
		return fmt.Errorf("at least one token is required")
	}
	tokens := make(map[string]bool, len(p.Tokens))
	for _, t := range p.Tokens {
		if t.Token == "" || t.Project == "" {
			return fmt.Errorf("token and project are required")
		}
		if tokens[t.Token] {
			return fmt.Errorf("duplicate token %q", t.Token)
		}
		tokens[t.Token] = true
		if _, ok := c.Oracles.Bridges[t.Oracle]; !ok {
			return fmt.Errorf("token %s: unknown oracle %q", t.Token, t.Oracle)
		}
	}
	if err := p.WithdrawalWindows.Validate(); err != nil {
		return fmt.Errorf("withdrawal_windows: %w", err)
	}
	return nil
}

// OracleEndpoints converts the bridge table into oracle endpoints.
func (c *Config) OracleEndpoints() map[string][]oracle.Endpoint {
	out := make(map[string][]oracle.Endpoint, len(c.Oracles.Bridges))
	for id, b := range c.Oracles.Bridges {
		eps := make([]oracle.Endpoint, len(b.URLs))
		for i, u := range b.URLs {
			eps[i] = oracle.Endpoint{Label: b.Labels[i], URL: u, Field: b.Field}
		}
		out[id] = eps
	}
	return out
}

// TokenSources returns the program's token bindings.
func (p Program) TokenSources() []program.TokenSource {
	out := make([]program.TokenSource, len(p.Tokens))
	for i, t := range p.Tokens {
		out[i] = program.TokenSource{Token: t.Token, Project: t.Project, Oracle: t.Oracle}
	}
	return out
}

// Intervals maps program names to refresh intervals.
func (c *Config) Intervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Programs))
	for _, p := range c.Programs {
		out[p.Name] = p.Interval
	}
	return out
}

// MilestoneSeasons converts the season table. Call only after Validate.
func (c *Config) MilestoneSeasons() []milestone.Season {
	out := make([]milestone.Season, 0, len(c.Seasons))
	for _, s := range c.Seasons {
		season := milestone.Season{Name: s.Name, Schedule: s.Schedule}
		for _, cat := range s.Categories {
			season.Categories = append(season.Categories, milestone.Category{
				Name:       cat.Name,
				RewardPool: decimal.RequireFromString(cat.RewardPool),
				Programs:   cat.Programs,
			})
		}
		out = append(out, season)
	}
	return out
}
