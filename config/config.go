// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const EnvPrefix = "PHISHGUARD_"

type Config struct {
	Database string `env:"DATABASE"`
	Listen   string `env:"LISTEN"`
	Loglevel string `env:"LOGLEVEL"`

	Sync        Sync        `envPrefix:"SYNC_"`
	Detection   Detection   `envPrefix:"DETECTION_"`
	Scorer      Scorer      `envPrefix:"SCORER_"`
	Credentials Credentials `envPrefix:"CREDENTIALS_"`

	Whitelist []WhitelistRule
	Users     []User
	Accounts  []Account
}

type Sync struct {
	Interval              time.Duration `env:"INTERVAL"`
	PageSize              int           `env:"PAGE_SIZE"`
	MaxPagesPerMailbox    int           `env:"MAX_PAGES_PER_MAILBOX"`
	MaxConcurrentAccounts int           `env:"MAX_CONCURRENT_ACCOUNTS"`
	OperationTimeout      time.Duration `env:"OPERATION_TIMEOUT"`
	DialTimeout           time.Duration `env:"DIAL_TIMEOUT"`
	MaxAttempts           int           `env:"MAX_ATTEMPTS"`
	BackoffBase           time.Duration `env:"BACKOFF_BASE"`
	BackoffMax            time.Duration `env:"BACKOFF_MAX"`
	InitialWindow         uint32        `env:"INITIAL_WINDOW"`
}

type Detection struct {
	Workers             int           `env:"WORKERS"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS"`
	RetryBackoff        time.Duration `env:"RETRY_BACKOFF"`
	SuspiciousThreshold float64       `env:"SUSPICIOUS_THRESHOLD"`
	HighRiskThreshold   float64       `env:"HIGH_RISK_THRESHOLD"`
	HighRiskUrlLength   int           `env:"HIGH_RISK_URL_LENGTH"`
	SuspiciousUrlLength int           `env:"SUSPICIOUS_URL_LENGTH"`
}

const (
	BackendLinear       = "linear"
	BackendSpamassassin = "spamassassin"
	BackendRspamd       = "rspamd"
	BackendOpenAI       = "openai"
)

type Scorer struct {
	Backend          string        `env:"BACKEND"`
	ModelPath        string        `env:"MODEL_PATH"`
	FeatureDimension int           `env:"FEATURE_DIMENSION"`
	ReloadTimeout    time.Duration `env:"RELOAD_TIMEOUT"`

	SpamassassinHost string  `env:"SPAMASSASSIN_HOST"`
	SpamThreshold    float64 `env:"SPAM_THRESHOLD"`
	// ScoreScale is the spread of the logistic mapping from spam scores of
	// spamassassin and rspamd to probabilities.
	ScoreScale       float64 `env:"SCORE_SCALE"`

	RspamdController string `env:"RSPAMD_CONTROLLER"`
	RspamdPassword   string `env:"RSPAMD_PASSWORD"`

	OpenAIKey     string `env:"OPENAI_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
}

type Credentials struct {
	Backends     []string `env:"BACKENDS"`
	FileDir      string   `env:"FILE_DIR"`
	FilePassword string   `env:"FILE_PASSWORD"`
}

type WhitelistRule struct {
	Scope string
	Match string
	Value string
}

type User struct {
	Token     string
	UserId    int64
	StudentId string
	Admin     bool
}

// Account is registered (or updated) in the store at startup. Accounts are
// active unless Active is set to false.
type Account struct {
	UserId        int64
	Address       string
	Host          string
	Port          int
	TLS           bool
	Username      string
	CredentialRef string
	Active        *bool
}

func Default() *Config {
	return &Config{
		Database: "phishguard.db",
		Listen:   ":8080",
		Loglevel: "info",
		Sync: Sync{
			Interval:              5 * time.Minute,
			PageSize:              20,
			MaxPagesPerMailbox:    10,
			MaxConcurrentAccounts: 4,
			OperationTimeout:      30 * time.Second,
			DialTimeout:           15 * time.Second,
			MaxAttempts:           3,
			BackoffBase:           2 * time.Second,
			BackoffMax:            time.Minute,
		},
		Detection: Detection{
			Workers:             4,
			MaxAttempts:         3,
			RetryBackoff:        2 * time.Second,
			SuspiciousThreshold: 0.6,
			HighRiskThreshold:   0.8,
			HighRiskUrlLength:   150,
			SuspiciousUrlLength: 100,
		},
		Scorer: Scorer{
			Backend:          BackendLinear,
			ModelPath:        "model.json",
			FeatureDimension: 4096,
			ReloadTimeout:    30 * time.Second,
			SpamThreshold:    5,
			ScoreScale:       2,
			OpenAIModel:      "gpt-4o-mini",
		},
		Credentials: Credentials{
			Backends: []string{"file"},
			FileDir:  "credentials",
		},
	}
}

// ReadConfig layers the toml file, an optional .env file and PHISHGUARD_*
// environment variables over the defaults.
func ReadConfig(filename string) (*Config, error) {
	config := Default()

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not read .env file: %w", err)
	}

	err = env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix})
	if err != nil {
		return nil, fmt.Errorf("could not apply environment: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.Listen, "Listen must not be empty, set to host:port of the http api"); err != nil {
		return err
	}

	if c.Sync.PageSize <= 0 {
		return errors.New("Sync.PageSize must be positive")
	}
	if c.Sync.MaxConcurrentAccounts <= 0 {
		return errors.New("Sync.MaxConcurrentAccounts must be positive")
	}
	if c.Sync.MaxAttempts <= 0 || c.Detection.MaxAttempts <= 0 {
		return errors.New("Sync.MaxAttempts and Detection.MaxAttempts must be positive")
	}
	if c.Sync.Interval <= 0 || c.Sync.OperationTimeout <= 0 {
		return errors.New("Sync.Interval and Sync.OperationTimeout must be positive")
	}

	if c.Detection.Workers <= 0 {
		return errors.New("Detection.Workers must be positive")
	}
	if c.Detection.SuspiciousThreshold <= 0 || c.Detection.SuspiciousThreshold >= c.Detection.HighRiskThreshold || c.Detection.HighRiskThreshold > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < SuspiciousThreshold < HighRiskThreshold <= 1, got %v and %v", c.Detection.SuspiciousThreshold, c.Detection.HighRiskThreshold)
	}
	if c.Detection.SuspiciousUrlLength <= 0 || c.Detection.SuspiciousUrlLength >= c.Detection.HighRiskUrlLength {
		return fmt.Errorf("url lengths must satisfy 0 < SuspiciousUrlLength < HighRiskUrlLength, got %d and %d", c.Detection.SuspiciousUrlLength, c.Detection.HighRiskUrlLength)
	}

	if err := c.Scorer.validate(); err != nil {
		return err
	}

	for _, r := range c.Whitelist {
		if _, err := r.Rule(); err != nil {
			return fmt.Errorf("invalid whitelist rule: %w", err)
		}
	}

	for _, u := range c.Users {
		if err := validateNonEmptyStringField(u.Token, "Users.Token must not be empty"); err != nil {
			return err
		}
	}

	for _, a := range c.Accounts {
		if err := validateNonEmptyStringField(a.Address, "Accounts.Address must not be empty"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.Host, fmt.Sprintf("Accounts.Host of %s must not be empty", a.Address)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Scorer) validate() error {
	switch s.Backend {
	case BackendLinear:
		if err := validateNonEmptyStringField(s.ModelPath, "Scorer.ModelPath must be set for the linear backend"); err != nil {
			return err
		}
		if s.FeatureDimension <= 0 {
			return errors.New("Scorer.FeatureDimension must be positive")
		}
	case BackendSpamassassin:
		if err := validateNonEmptyStringField(s.SpamassassinHost, "Scorer.SpamassassinHost must be set for the spamassassin backend"); err != nil {
			return err
		}
	case BackendRspamd:
		if err := validateNonEmptyStringField(s.RspamdController, "Scorer.RspamdController must be set for the rspamd backend"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(s.RspamdPassword, "Scorer.RspamdPassword must be set if RspamdController is set"); err != nil {
			return err
		}
	case BackendOpenAI:
		if err := validateNonEmptyStringField(s.OpenAIKey, "Scorer.OpenAIKey must be set for the openai backend"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown Scorer.Backend %q, use one of linear, spamassassin, rspamd, openai", s.Backend)
	}

	if (s.Backend == BackendSpamassassin || s.Backend == BackendRspamd) && s.ScoreScale <= 0 {
		return errors.New("Scorer.ScoreScale must be positive")
	}

	if s.ReloadTimeout <= 0 {
		return errors.New("Scorer.ReloadTimeout must be positive")
	}

	return nil
}

func (r WhitelistRule) Rule() (domain.WhitelistRule, error) {
	scope, err := domain.ParseScope(r.Scope)
	if err != nil {
		return domain.WhitelistRule{}, err
	}
	match, err := domain.ParseMatchType(r.Match)
	if err != nil {
		return domain.WhitelistRule{}, err
	}
	if len(strings.TrimSpace(r.Value)) == 0 {
		return domain.WhitelistRule{}, errors.New("whitelist value must not be empty")
	}

	return domain.WhitelistRule{Scope: scope, Match: match, Value: strings.ToLower(strings.TrimSpace(r.Value))}, nil
}

// WhitelistRules returns the statically configured rules. They are
// validated by ReadConfig, invalid ones are skipped here.
func (c *Config) WhitelistRules() []domain.WhitelistRule {
	rules := []domain.WhitelistRule{}
	for _, r := range c.Whitelist {
		rule, err := r.Rule()
		if err != nil {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func (a Account) Account() domain.Account {
	return domain.Account{
		UserId:        a.UserId,
		Address:       a.Address,
		Host:          a.Host,
		Port:          a.Port,
		TLS:           a.TLS,
		Username:      a.Username,
		CredentialRef: a.CredentialRef,
		Active:        a.Active == nil || *a.Active,
	}
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
