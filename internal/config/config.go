// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPolicyBrief is the style brief sent to the reply generator when the
// config does not override it.
const DefaultPolicyBrief = "Reply as the original sender. Keep it under 120 words, " +
	"friendly and direct. Never invent facts, prices or dates. " +
	"If they asked for a meeting, propose two concrete time slots. " +
	"Sign with the sender's first name only."

// OAuthIdentity holds credentials for the Graph-backed mailbox.
type OAuthIdentity struct {
	Address      string
	DisplayName  string
	TenantID     string
	ClientID     string
	ClientSecret string
	UserID       string // Graph user id or UPN; defaults to Address
	DailyLimit   int
}

// MailboxIdentity holds credentials for an SMTP/IMAP mailbox. The tracking
// identity uses the same shape.
type MailboxIdentity struct {
	Address     string
	DisplayName string
	Username    string
	Password    string
	IMAPHost    string
	IMAPPort    int
	SMTPHost    string
	SMTPPort    int
	TLS         bool // implicit TLS; false means STARTTLS
	DailyLimit  int
}

// ReplyCheckConfig controls the batch pipeline.
type ReplyCheckConfig struct {
	Lookback        time.Duration
	Interval        time.Duration
	FetchTimeout    time.Duration
	GenerateTimeout time.Duration
	SendTimeout     time.Duration
	VerifyTimeout   time.Duration
	ClaimTTL        time.Duration
	PolicyBrief     string
	AutoReply       bool
}

// OpenAIConfig configures the reply generator.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NotifyConfig configures the meeting-request alert email.
type NotifyConfig struct {
	SendGridAPIKey string
	From           string
	To             string
}

// Config holds all configuration for the reply pipeline.
type Config struct {
	OAuth    *OAuthIdentity
	SMTP     []MailboxIdentity
	Tracking *MailboxIdentity

	ReplyCheck ReplyCheckConfig
	OpenAI     OpenAIConfig
	Notify     NotifyConfig

	DatabaseURL string
	RedisURL    string

	// Server (trigger, health and metrics)
	Port     int
	LogLevel string
}

type rawMailbox struct {
	Address     string `yaml:"address"`
	DisplayName string `yaml:"display_name"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	IMAPHost    string `yaml:"imap_host"`
	IMAPPort    int    `yaml:"imap_port"`
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port"`
	TLS         *bool  `yaml:"tls"`
	DailyLimit  int    `yaml:"daily_limit"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Identities struct {
		OAuth *struct {
			Address      string `yaml:"address"`
			DisplayName  string `yaml:"display_name"`
			TenantID     string `yaml:"tenant_id"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			UserID       string `yaml:"user_id"`
			DailyLimit   int    `yaml:"daily_limit"`
		} `yaml:"oauth"`
		SMTP     []rawMailbox `yaml:"smtp"`
		Tracking *rawMailbox  `yaml:"tracking"`
	} `yaml:"identities"`
	ReplyCheck struct {
		Lookback        string `yaml:"lookback"`
		Interval        string `yaml:"interval"`
		FetchTimeout    string `yaml:"fetch_timeout"`
		GenerateTimeout string `yaml:"generate_timeout"`
		SendTimeout     string `yaml:"send_timeout"`
		VerifyTimeout   string `yaml:"verify_timeout"`
		ClaimTTL        string `yaml:"claim_ttl"`
		PolicyBrief     string `yaml:"policy_brief"`
		AutoReply       *bool  `yaml:"auto_reply"`
	} `yaml:"reply_check"`
	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"openai"`
	Notify struct {
		SendGridAPIKey string `yaml:"sendgrid_api_key"`
		From           string `yaml:"from"`
		To             string `yaml:"to"`
	} `yaml:"notify"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML. ${VAR} references are expanded from
// the environment before parsing.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		ReplyCheck: ReplyCheckConfig{
			Lookback:        parseDurationOr(raw.ReplyCheck.Lookback, envOrDefaultDuration("REPLY_LOOKBACK", 24*time.Hour)),
			Interval:        parseDurationOr(raw.ReplyCheck.Interval, envOrDefaultDuration("REPLY_INTERVAL", 15*time.Minute)),
			FetchTimeout:    parseDurationOr(raw.ReplyCheck.FetchTimeout, envOrDefaultDuration("FETCH_TIMEOUT", 45*time.Second)),
			GenerateTimeout: parseDurationOr(raw.ReplyCheck.GenerateTimeout, envOrDefaultDuration("GENERATE_TIMEOUT", 60*time.Second)),
			SendTimeout:     parseDurationOr(raw.ReplyCheck.SendTimeout, envOrDefaultDuration("SEND_TIMEOUT", 30*time.Second)),
			VerifyTimeout:   parseDurationOr(raw.ReplyCheck.VerifyTimeout, envOrDefaultDuration("VERIFY_TIMEOUT", 15*time.Second)),
			ClaimTTL:        parseDurationOr(raw.ReplyCheck.ClaimTTL, envOrDefaultDuration("CLAIM_TTL", 10*time.Minute)),
			PolicyBrief:     firstNonEmpty(raw.ReplyCheck.PolicyBrief, DefaultPolicyBrief),
			AutoReply:       true,
		},
		OpenAI: OpenAIConfig{
			APIKey:  firstNonEmpty(raw.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY")),
			Model:   firstNonEmpty(raw.OpenAI.Model, envOrDefault("OPENAI_MODEL", "gpt-4o-mini")),
			BaseURL: raw.OpenAI.BaseURL,
		},
		Notify: NotifyConfig{
			SendGridAPIKey: firstNonEmpty(raw.Notify.SendGridAPIKey, os.Getenv("SENDGRID_API_KEY")),
			From:           raw.Notify.From,
			To:             firstNonEmpty(raw.Notify.To, os.Getenv("NOTIFY_EMAIL")),
		},
		DatabaseURL: firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/crm?sslmode=disable")),
		// Optional: without Redis, overlapping runs rely on the message_id constraint.
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		Port:        envOrDefaultInt("PORT", 8080),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
	}
	if raw.ReplyCheck.AutoReply != nil {
		cfg.ReplyCheck.AutoReply = *raw.ReplyCheck.AutoReply
	}

	if o := raw.Identities.OAuth; o != nil {
		// Skip the OAuth identity when its credentials are empty (commented out in YAML)
		if o.Address != "" && o.TenantID != "" && o.ClientID != "" && o.ClientSecret != "" {
			cfg.OAuth = &OAuthIdentity{
				Address:      o.Address,
				DisplayName:  o.DisplayName,
				TenantID:     o.TenantID,
				ClientID:     o.ClientID,
				ClientSecret: o.ClientSecret,
				UserID:       firstNonEmpty(o.UserID, o.Address),
				DailyLimit:   o.DailyLimit,
			}
		}
	}

	for _, m := range raw.Identities.SMTP {
		mb, ok := buildMailbox(m)
		if !ok {
			continue
		}
		cfg.SMTP = append(cfg.SMTP, mb)
	}

	if raw.Identities.Tracking != nil {
		if mb, ok := buildMailbox(*raw.Identities.Tracking); ok {
			cfg.Tracking = &mb
		}
	}

	if cfg.OAuth == nil && len(cfg.SMTP) == 0 && cfg.Tracking == nil {
		return nil, fmt.Errorf("no mailbox identities configured; check config.yaml and environment variables")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildMailbox applies defaults to a raw mailbox entry. Entries without an
// address or password are skipped.
func buildMailbox(m rawMailbox) (MailboxIdentity, bool) {
	if m.Address == "" || m.Password == "" || m.IMAPHost == "" {
		return MailboxIdentity{}, false
	}

	mb := MailboxIdentity{
		Address:     m.Address,
		DisplayName: m.DisplayName,
		Username:    firstNonEmpty(m.Username, m.Address),
		Password:    m.Password,
		IMAPHost:    m.IMAPHost,
		IMAPPort:    m.IMAPPort,
		SMTPHost:    firstNonEmpty(m.SMTPHost, m.IMAPHost),
		SMTPPort:    m.SMTPPort,
		TLS:         true,
		DailyLimit:  m.DailyLimit,
	}
	if m.TLS != nil {
		mb.TLS = *m.TLS
	}
	if mb.IMAPPort == 0 {
		mb.IMAPPort = 993
	}
	if mb.SMTPPort == 0 {
		if mb.TLS {
			mb.SMTPPort = 465
		} else {
			mb.SMTPPort = 587
		}
	}
	return mb, true
}

// validate rejects duplicate identity addresses; the registry keys on them.
func (c *Config) validate() error {
	seen := make(map[string]bool)
	for _, addr := range c.IdentityAddresses() {
		key := strings.ToLower(addr)
		if seen[key] {
			return fmt.Errorf("identity %s configured more than once", addr)
		}
		seen[key] = true
	}
	return nil
}

// IdentityAddresses lists every configured outbound identity address.
func (c *Config) IdentityAddresses() []string {
	var out []string
	if c.OAuth != nil {
		out = append(out, c.OAuth.Address)
	}
	for _, m := range c.SMTP {
		out = append(out, m.Address)
	}
	if c.Tracking != nil {
		out = append(out, c.Tracking.Address)
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
