// Package config loads the relay configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the relay configuration.
type Config struct {
	// Concurrency bounds how many messages from one frame dispatch at once.
	Concurrency int

	// LogLevel is a zerolog level name.
	LogLevel string

	// MetricsAddr is the listen address for /metrics. Empty disables it.
	MetricsAddr string

	// KeyPath selects keyed parsers, e.g. "post_type".
	KeyPath string

	// BlockedUsers are user ids whose messages are canceled before any plugin
	// sees them.
	BlockedUsers []int64

	// EchoPrefix is the command the echo plugin answers to.
	EchoPrefix string

	// Mention marks a group line as addressed to the bot.
	Mention      string
	MentionReply string
	Welcome      string

	ShutdownTimeout time.Duration
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Concurrency:     1,
		LogLevel:        "info",
		KeyPath:         "post_type",
		BlockedUsers:    []int64{},
		EchoPrefix:      "/echo",
		Mention:         "@bot",
		MentionReply:    "at your service",
		Welcome:         "welcome!",
		ShutdownTimeout: 5 * time.Second,
	}
}

type fileConfig struct {
	Concurrency     int     `toml:"concurrency"`
	LogLevel        string  `toml:"log_level"`
	MetricsAddr     string  `toml:"metrics_addr"`
	KeyPath         string  `toml:"key_path"`
	BlockedUsers    []int64 `toml:"blocked_users"`
	EchoPrefix      string  `toml:"echo_prefix"`
	Mention         string  `toml:"mention"`
	MentionReply    string  `toml:"mention_reply"`
	Welcome         string  `toml:"welcome"`
	ShutdownTimeout string  `toml:"shutdown_timeout"`
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(Default(), raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("concurrency") {
		cfg.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("key_path") {
		cfg.KeyPath = strings.TrimSpace(raw.KeyPath)
	}
	if meta.IsDefined("blocked_users") {
		cfg.BlockedUsers = raw.BlockedUsers
	}
	if meta.IsDefined("echo_prefix") {
		cfg.EchoPrefix = strings.TrimSpace(raw.EchoPrefix)
	}
	if meta.IsDefined("mention") {
		cfg.Mention = strings.TrimSpace(raw.Mention)
	}
	if meta.IsDefined("mention_reply") {
		cfg.MentionReply = raw.MentionReply
	}
	if meta.IsDefined("welcome") {
		cfg.Welcome = raw.Welcome
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.EchoPrefix == "" {
		errs = append(errs, errors.New("echo_prefix must not be empty"))
	}
	if c.Mention == "" {
		errs = append(errs, errors.New("mention must not be empty"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %v", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

// Blocked reports whether user is on the blocklist.
func (c Config) Blocked(user int64) bool {
	for _, id := range c.BlockedUsers {
		if id == user {
			return true
		}
	}
	return false
}
