// Package config loads and validates the static tgreddit configuration.
//
// The file is YAML, decoded strictly (unknown keys are an error) so typos
// fail at startup instead of silently disabling features. The configuration
// is immutable for the process lifetime.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Default knobs applied when a subscription omits them and no defaults
// block overrides them.
const (
	DefaultLimit      = 1
	DefaultTimePeriod = "day"
	DefaultSchedule   = 10 * time.Minute
)

const (
	DefaultShutdownGrace   = 30 * time.Second
	DefaultFetchBackoffCap = time.Hour
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`

	DBPath string `yaml:"db_path"`

	// LinksBaseURL rewrites reddit permalinks in outgoing messages
	// (e.g. a libreddit instance). Empty means reddit.com plus an extra
	// old.reddit.com link.
	LinksBaseURL string `yaml:"links_base_url,omitempty"`

	// SkipInitialSend suppresses sending on the first cycle of a
	// previously unseen (chat, subreddit) pair; posts are only marked
	// delivered. Defaults to true.
	SkipInitialSend *bool `yaml:"skip_initial_send,omitempty"`

	Defaults SubscriptionDefaults `yaml:"defaults,omitempty"`
	Media    MediaConfig          `yaml:"media,omitempty"`
	Dispatch DispatchConfig       `yaml:"dispatch,omitempty"`

	// ShutdownGrace bounds draining on shutdown. Go duration string.
	ShutdownGrace string `yaml:"shutdown_grace,omitempty"`

	// FetchBackoffCap caps the exponential backoff applied after
	// permanent fetch failures. Go duration string.
	FetchBackoffCap string `yaml:"fetch_backoff_cap,omitempty"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level,omitempty"`
	Console *bool       `yaml:"console,omitempty"`
	File    LoggingFile `yaml:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// SubscriptionDefaults fills fields a subscription omits.
type SubscriptionDefaults struct {
	// Schedule is a Go duration string ("30m") or a cron spec
	// ("cron:0 * * * *").
	Schedule string `yaml:"schedule,omitempty"`
	Limit    int    `yaml:"limit,omitempty"`
	Time     string `yaml:"time,omitempty"`
	MinScore int    `yaml:"min_score,omitempty"`
	Media    *bool  `yaml:"media,omitempty"`
}

type MediaConfig struct {
	// YtdlpPath is the yt-dlp binary. Default "yt-dlp" (from PATH).
	YtdlpPath string `yaml:"ytdlp_path,omitempty"`
	// Timeout is the hard wall-clock limit per acquisition. Default 5m.
	Timeout string `yaml:"timeout,omitempty"`
	// Concurrency caps concurrent acquisitions across all
	// subscriptions. Default 2.
	Concurrency int `yaml:"concurrency,omitempty"`
}

type DispatchConfig struct {
	// RatePerSec is the global outbound message ceiling shared by all
	// chats. Default 1.
	RatePerSec int `yaml:"rate_per_sec,omitempty"`
	Burst      int `yaml:"burst,omitempty"`
}

type SubscriptionConfig struct {
	Subreddit string `yaml:"subreddit"`
	ChatID    int64  `yaml:"chat_id"`
	Schedule  string `yaml:"schedule,omitempty"`
	Limit     int    `yaml:"limit,omitempty"`
	Time      string `yaml:"time,omitempty"`
	MinScore  int    `yaml:"min_score,omitempty"`
	// Filter restricts the subscription to one post type
	// (image, video, link, self, gallery). Empty means all.
	Filter string `yaml:"filter,omitempty"`
	Media  *bool  `yaml:"media,omitempty"`
}

// Subscription is a SubscriptionConfig with defaults resolved. One
// Subscription owns exactly one polling cycle for the process lifetime.
type Subscription struct {
	Subreddit string
	ChatID    int64
	Schedule  string
	Limit     int
	Time      string
	MinScore  int
	Filter    string
	Media     bool
}

func validTimePeriod(s string) bool {
	switch s {
	case "hour", "day", "week", "month", "year", "all":
		return true
	}
	return false
}

func validFilter(s string) bool {
	switch s {
	case "", "image", "video", "link", "self", "gallery":
		return true
	}
	return false
}

// Load reads, strictly decodes and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path is required")
	}
	if len(c.Subscriptions) == 0 {
		return errors.New("at least one subscription is required")
	}
	if _, err := ParseDurationField("shutdown_grace", c.ShutdownGrace); err != nil {
		return err
	}
	if _, err := ParseDurationField("fetch_backoff_cap", c.FetchBackoffCap); err != nil {
		return err
	}
	if _, err := ParseDurationField("media.timeout", c.Media.Timeout); err != nil {
		return err
	}
	if c.Defaults.Time != "" && !validTimePeriod(c.Defaults.Time) {
		return fmt.Errorf("defaults.time: unknown time period %q", c.Defaults.Time)
	}

	seen := make(map[string]struct{}, len(c.Subscriptions))
	for i, s := range c.Subscriptions {
		at := fmt.Sprintf("subscriptions[%d]", i)
		if strings.TrimSpace(s.Subreddit) == "" {
			return fmt.Errorf("%s: subreddit is required", at)
		}
		if s.ChatID == 0 {
			return fmt.Errorf("%s: chat_id is required", at)
		}
		if s.Time != "" && !validTimePeriod(s.Time) {
			return fmt.Errorf("%s: unknown time period %q", at, s.Time)
		}
		if !validFilter(s.Filter) {
			return fmt.Errorf("%s: unknown filter %q", at, s.Filter)
		}
		if s.Limit < 0 || s.MinScore < 0 {
			return fmt.Errorf("%s: limit and min_score must be >= 0", at)
		}
		key := fmt.Sprintf("%s/%d", strings.ToLower(s.Subreddit), s.ChatID)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: duplicate subscription for /r/%s in chat %d", at, s.Subreddit, s.ChatID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ResolvedSubscriptions applies the defaults block to every subscription.
func (c *Config) ResolvedSubscriptions() []Subscription {
	out := make([]Subscription, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		r := Subscription{
			Subreddit: s.Subreddit,
			ChatID:    s.ChatID,
			Schedule:  s.Schedule,
			Limit:     s.Limit,
			Time:      s.Time,
			MinScore:  s.MinScore,
			Filter:    s.Filter,
			Media:     true,
		}
		if r.Schedule == "" {
			r.Schedule = c.Defaults.Schedule
		}
		if r.Schedule == "" {
			r.Schedule = DefaultSchedule.String()
		}
		if r.Limit == 0 {
			r.Limit = c.Defaults.Limit
		}
		if r.Limit == 0 {
			r.Limit = DefaultLimit
		}
		if r.Time == "" {
			r.Time = c.Defaults.Time
		}
		if r.Time == "" {
			r.Time = DefaultTimePeriod
		}
		if r.MinScore == 0 {
			r.MinScore = c.Defaults.MinScore
		}
		switch {
		case s.Media != nil:
			r.Media = *s.Media
		case c.Defaults.Media != nil:
			r.Media = *c.Defaults.Media
		}
		out = append(out, r)
	}
	return out
}

// SkipInitial reports whether the first cycle for a fresh (chat, subreddit)
// pair should only mark posts as delivered.
func (c *Config) SkipInitial() bool {
	if c.SkipInitialSend == nil {
		return true
	}
	return *c.SkipInitialSend
}

// GraceDeadline returns the configured shutdown drain bound.
func (c *Config) GraceDeadline() time.Duration {
	d, _ := ParseDurationOrDefault("shutdown_grace", c.ShutdownGrace, DefaultShutdownGrace)
	return d
}

// BackoffCap returns the cap for permanent-fetch-failure backoff.
func (c *Config) BackoffCap() time.Duration {
	d, _ := ParseDurationOrDefault("fetch_backoff_cap", c.FetchBackoffCap, DefaultFetchBackoffCap)
	return d
}
