package config

import (
	"time"

	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/task"
)

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `json:"path,omitempty"` // SQLite file; empty means the XDG data dir
}

// LogConfig controls structured log output. File rotation applies only when
// File is set; otherwise logs go to stderr.
type LogConfig struct {
	Level      string `json:"level,omitempty"` // trace, debug, info, warn, error
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Console    bool   `json:"console,omitempty"` // human-readable console format
}

// WorkerConfig defines the external worker command. {{id}} and {{summary}}
// placeholders in Args are substituted per task.
type WorkerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
}

// ChainConfig tunes chain runs.
type ChainConfig struct {
	PollIntervalSeconds int  `json:"poll_interval_seconds,omitempty"`
	Concurrency         int  `json:"concurrency,omitempty"`
	ContingentGates     bool `json:"contingent_gates,omitempty"` // contingent deps gate readiness
}

// ScoreConfig overrides priority scoring weights. Zero values fall back to
// the built-in defaults.
type ScoreConfig struct {
	ActiveBonus       int `json:"active_bonus,omitempty"`
	UnblocksBonus     int `json:"unblocks_bonus,omitempty"`
	UnblocksCap       int `json:"unblocks_cap,omitempty"`
	ContingentPenalty int `json:"contingent_penalty,omitempty"`
}

// ReasonConfig extends the closure-reason vocabulary.
type ReasonConfig struct {
	Extra []string `json:"extra,omitempty"` // additional accepted reasons
	Moot  []string `json:"moot,omitempty"`  // reasons that cascade; empty keeps the default set
}

// Config is the top-level configuration.
type Config struct {
	Store           StoreConfig  `json:"store,omitempty"`
	Log             LogConfig    `json:"log,omitempty"`
	Worker          WorkerConfig `json:"worker,omitempty"`
	Chain           ChainConfig  `json:"chain,omitempty"`
	Score           ScoreConfig  `json:"score,omitempty"`
	Reasons         ReasonConfig `json:"reasons,omitempty"`
	ExpireAfterDays int          `json:"expire_after_days,omitempty"` // 0 disables expiry
}

// Weights compiles the score overrides onto the defaults.
func (c *Config) Weights() score.Weights {
	w := score.DefaultWeights()
	if c.Score.ActiveBonus != 0 {
		w.ActiveBonus = c.Score.ActiveBonus
	}
	if c.Score.UnblocksBonus != 0 {
		w.UnblocksBonus = c.Score.UnblocksBonus
	}
	if c.Score.UnblocksCap != 0 {
		w.UnblocksCap = c.Score.UnblocksCap
	}
	if c.Score.ContingentPenalty != 0 {
		w.ContingentPenalty = c.Score.ContingentPenalty
	}
	return w
}

// ReasonSet compiles the closure-reason vocabulary.
func (c *Config) ReasonSet() *task.ReasonSet {
	return task.NewReasonSet(c.Reasons.Extra, c.Reasons.Moot)
}

// Policy compiles the readiness-gating policy.
func (c *Config) Policy() graph.Policy {
	return graph.Policy{ContingentGates: c.Chain.ContingentGates}
}

// PollInterval returns the chain poll interval, zero when unset.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Chain.PollIntervalSeconds) * time.Second
}

// ExpireAfter returns the deferred-task expiry window, zero when disabled.
func (c *Config) ExpireAfter() time.Duration {
	return time.Duration(c.ExpireAfterDays) * 24 * time.Hour
}
