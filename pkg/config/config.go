// Package config assembles the oracle's runtime configuration from
// environment variables and optional YAML governance profiles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full runtime configuration.
type Config struct {
	CommitteeMembers []string
	Quorum           int
	RequiredMajority float64
	CommentPeriod    time.Duration
	MinDisputeStake  float64

	ListenAddr string
	RedisAddr  string

	ArchiveDriver string // "", sqlite, postgres
	ArchiveDSN    string

	PackStore  string // fs, s3, gcs
	PackDir    string
	PackBucket string

	CheckpointSeed string
	TokenSecret    string

	OTLPEndpoint string

	ProfileDir string
	Profile    string
}

// FromEnv reads configuration from RECOURSE_* environment variables,
// falling back to defaults suitable for local development.
func FromEnv() *Config {
	return &Config{
		CommitteeMembers: envList("RECOURSE_COMMITTEE"),
		Quorum:           envInt("RECOURSE_QUORUM", 2),
		RequiredMajority: envFloat("RECOURSE_REQUIRED_MAJORITY", 66),
		CommentPeriod:    envDuration("RECOURSE_COMMENT_PERIOD", 72*time.Hour),
		MinDisputeStake:  envFloat("RECOURSE_MIN_DISPUTE_STAKE", 100),
		ListenAddr:       envStr("RECOURSE_LISTEN_ADDR", ":8080"),
		RedisAddr:        os.Getenv("RECOURSE_REDIS_ADDR"),
		ArchiveDriver:    os.Getenv("RECOURSE_ARCHIVE_DRIVER"),
		ArchiveDSN:       os.Getenv("RECOURSE_ARCHIVE_DSN"),
		PackStore:        envStr("RECOURSE_PACK_STORE", "fs"),
		PackDir:          envStr("RECOURSE_PACK_DIR", "packs"),
		PackBucket:       os.Getenv("RECOURSE_PACK_BUCKET"),
		CheckpointSeed:   os.Getenv("RECOURSE_CHECKPOINT_SEED"),
		TokenSecret:      os.Getenv("RECOURSE_TOKEN_SECRET"),
		OTLPEndpoint:     os.Getenv("RECOURSE_OTLP_ENDPOINT"),
		ProfileDir:       envStr("RECOURSE_PROFILE_DIR", "profiles"),
		Profile:          os.Getenv("RECOURSE_PROFILE"),
	}
}

// Validate checks the governance policy numbers. Transport and storage
// settings are validated by the components that consume them.
func (c *Config) Validate() error {
	if len(c.CommitteeMembers) == 0 {
		return fmt.Errorf("committee roster is empty")
	}
	seen := make(map[string]struct{}, len(c.CommitteeMembers))
	for _, m := range c.CommitteeMembers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("committee roster contains an empty member id")
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("duplicate committee member %q", m)
		}
		seen[m] = struct{}{}
	}
	if c.Quorum < 1 || c.Quorum > len(c.CommitteeMembers) {
		return fmt.Errorf("quorum %d out of range for committee of %d", c.Quorum, len(c.CommitteeMembers))
	}
	if c.RequiredMajority <= 50 || c.RequiredMajority > 100 {
		return fmt.Errorf("required majority %.2f must be in (50, 100]", c.RequiredMajority)
	}
	if c.CommentPeriod <= 0 {
		return fmt.Errorf("comment period must be positive")
	}
	if c.MinDisputeStake <= 0 {
		return fmt.Errorf("minimum dispute stake must be positive")
	}
	switch c.ArchiveDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown archive driver %q", c.ArchiveDriver)
	}
	switch c.PackStore {
	case "", "fs", "s3", "gcs":
	default:
		return fmt.Errorf("unknown pack store %q", c.PackStore)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
