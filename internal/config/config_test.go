package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
telegram:
  token: "123:abc"
db_path: ./data/tgreddit.db
defaults:
  schedule: 30m
  limit: 5
  time: week
subscriptions:
  - subreddit: golang
    chat_id: -100123
    min_score: 10
  - subreddit: programming
    chat_id: -100123
    schedule: 1h
    limit: 3
    time: day
    media: false
`

func TestLoadValid(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	subs := cfg.ResolvedSubscriptions()
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}

	first := subs[0]
	if first.Schedule != "30m" || first.Limit != 5 || first.Time != "week" {
		t.Fatalf("defaults not applied: %+v", first)
	}
	if first.MinScore != 10 || !first.Media {
		t.Fatalf("unexpected first subscription: %+v", first)
	}

	second := subs[1]
	if second.Schedule != "1h" || second.Limit != 3 || second.Time != "day" {
		t.Fatalf("overrides not kept: %+v", second)
	}
	if second.Media {
		t.Fatal("media=false not honored")
	}

	if !cfg.SkipInitial() {
		t.Fatal("skip_initial_send should default to true")
	}
	if cfg.GraceDeadline() != DefaultShutdownGrace {
		t.Fatalf("GraceDeadline = %v", cfg.GraceDeadline())
	}
	if cfg.BackoffCap() != DefaultFetchBackoffCap {
		t.Fatalf("BackoffCap = %v", cfg.BackoffCap())
	}
}

func TestLoadBuiltinDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "123:abc"
db_path: ./db
subscriptions:
  - subreddit: golang
    chat_id: 1
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := cfg.ResolvedSubscriptions()[0]
	if sub.Limit != DefaultLimit {
		t.Fatalf("Limit = %d, want %d", sub.Limit, DefaultLimit)
	}
	if sub.Time != DefaultTimePeriod {
		t.Fatalf("Time = %s, want %s", sub.Time, DefaultTimePeriod)
	}
	// Omitting schedule (with no defaults block) must not fail startup
	// later; the built-in cadence applies.
	if sub.Schedule != DefaultSchedule.String() {
		t.Fatalf("Schedule = %q, want %q", sub.Schedule, DefaultSchedule.String())
	}
	if d, err := time.ParseDuration(sub.Schedule); err != nil || d != DefaultSchedule {
		t.Fatalf("default schedule %q does not parse back: %v", sub.Schedule, err)
	}
}

func TestLoadDurations(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "123:abc"
db_path: ./db
shutdown_grace: 10s
fetch_backoff_cap: 2h
subscriptions:
  - subreddit: golang
    chat_id: 1
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.GraceDeadline() != 10*time.Second {
		t.Fatalf("GraceDeadline = %v", cfg.GraceDeadline())
	}
	if cfg.BackoffCap() != 2*time.Hour {
		t.Fatalf("BackoffCap = %v", cfg.BackoffCap())
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown field",
			body: "telegram:\n  token: x\ndb_path: ./db\ntypo_field: 1\nsubscriptions:\n  - subreddit: a\n    chat_id: 1\n",
			want: "field typo_field not found",
		},
		{
			name: "missing token",
			body: "db_path: ./db\nsubscriptions:\n  - subreddit: a\n    chat_id: 1\n",
			want: "telegram.token is required",
		},
		{
			name: "no subscriptions",
			body: "telegram:\n  token: x\ndb_path: ./db\nsubscriptions: []\n",
			want: "at least one subscription",
		},
		{
			name: "missing chat id",
			body: "telegram:\n  token: x\ndb_path: ./db\nsubscriptions:\n  - subreddit: a\n",
			want: "chat_id is required",
		},
		{
			name: "bad duration",
			body: "telegram:\n  token: x\ndb_path: ./db\nshutdown_grace: soon\nsubscriptions:\n  - subreddit: a\n    chat_id: 1\n",
			want: "invalid duration",
		},
		{
			name: "bad time period",
			body: "telegram:\n  token: x\ndb_path: ./db\nsubscriptions:\n  - subreddit: a\n    chat_id: 1\n    time: fortnight\n",
			want: "unknown time period",
		},
		{
			name: "bad filter",
			body: "telegram:\n  token: x\ndb_path: ./db\nsubscriptions:\n  - subreddit: a\n    chat_id: 1\n    filter: meme\n",
			want: "unknown filter",
		},
		{
			name: "duplicate subscription",
			body: "telegram:\n  token: x\ndb_path: ./db\nsubscriptions:\n  - subreddit: a\n    chat_id: 1\n  - subreddit: A\n    chat_id: 1\n",
			want: "duplicate subscription",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
