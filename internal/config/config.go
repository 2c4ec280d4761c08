// Package config loads MeowDev settings from ~/.meowdev/config.yaml,
// applies environment overrides, and resolves each cat's soul text from
// disk with built-in fallbacks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FallbackEntry names the CLI that fills in for a cat on quota exhaustion.
type FallbackEntry struct {
	Command    []string `yaml:"command"`
	HelperName string   `yaml:"helper_name"`
}

// CatEntry configures one cat persona.
type CatEntry struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Breed     string         `yaml:"breed"`
	Role      string         `yaml:"role"`
	Nicknames []string       `yaml:"nicknames"`
	SoulFile  string         `yaml:"soul_file"`
	Command   []string       `yaml:"command"`
	Decoder   string         `yaml:"decoder"` // plain | codex-trace | event-stream
	Fallback  *FallbackEntry `yaml:"fallback"`

	// Soul is the resolved persona text, loaded from SoulFile or the
	// built-in default.
	Soul string `yaml:"-"`
}

// Config is the full MeowDev configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	DBPath    string `yaml:"db_path"`
	WorkDir   string `yaml:"work_dir"`
	LogLevel  string `yaml:"log_level"`
	SessionID string `yaml:"session_id"`

	MaxReviewRounds   int `yaml:"max_review_rounds"`
	MaxWorkRounds     int `yaml:"max_work_rounds"`
	CLITimeoutSeconds int `yaml:"cli_timeout_seconds"`
	GitTimeoutSeconds int `yaml:"git_timeout_seconds"`

	GitMainBranch string `yaml:"git_main_branch"`
	BranchPrefix  string `yaml:"branch_prefix"`
	RepoName      string `yaml:"repo_name"`
	WorkSweepCron string `yaml:"work_sweep_cron"`

	// TraceExporter selects span export: "stdout", "none", or "" (off).
	TraceExporter string `yaml:"trace_exporter"`

	QuotaKeywords []string   `yaml:"quota_keywords"`
	Cats          []CatEntry `yaml:"cats"`
}

// CLITimeout returns the per-invocation CLI timeout.
func (c Config) CLITimeout() time.Duration {
	return time.Duration(c.CLITimeoutSeconds) * time.Second
}

// GitTimeout returns the per-command git/gh timeout.
func (c Config) GitTimeout() time.Duration {
	return time.Duration(c.GitTimeoutSeconds) * time.Second
}

// HomeDir returns the MeowDev home directory, honoring MEOWDEV_HOME.
func HomeDir() string {
	if override := os.Getenv("MEOWDEV_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".meowdev")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the MeowDev home, falling back to defaults
// for anything unset, then applies env overrides and resolves soul files.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create meowdev home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	loadSouls(&cfg)
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		LogLevel:          "info",
		SessionID:         "default",
		MaxReviewRounds:   3,
		MaxWorkRounds:     100,
		CLITimeoutSeconds: int((10 * time.Minute).Seconds()),
		GitTimeoutSeconds: 60,
		GitMainBranch:     "main",
		BranchPrefix:      "feat/",
		RepoName:          "meowdev-output",
		WorkSweepCron:     "*/5 * * * *",
		Cats:              DefaultCats(),
	}
}

// DefaultCats returns the built-in three-cat cast.
func DefaultCats() []CatEntry {
	claudeCmd := []string{
		"claude", "-p",
		"--output-format", "text",
		"--no-session-persistence",
		"--dangerously-skip-permissions",
	}
	return []CatEntry{
		{
			ID:        "arch",
			Name:      "Arch酱",
			Breed:     "Persian",
			Role:      "chief architect",
			Nicknames: []string{"arch酱"},
			SoulFile:  "souls/arch.md",
			Command:   claudeCmd,
			Decoder:   "plain",
		},
		{
			ID:        "stack",
			Name:      "Stack喵",
			Breed:     "orange tabby",
			Role:      "full-stack engineer",
			Nicknames: []string{"stack喵"},
			SoulFile:  "souls/stack.md",
			Command:   []string{"codex", "exec"},
			Decoder:   "codex-trace",
			Fallback: &FallbackEntry{
				Command:    claudeCmd,
				HelperName: "Arch酱",
			},
		},
		{
			ID:        "pixel",
			Name:      "Pixel咪",
			Breed:     "calico",
			Role:      "ui/ux designer",
			Nicknames: []string{"pixel咪"},
			SoulFile:  "souls/pixel.md",
			Command:   []string{"kimi", "--print", "--final-message-only"},
			Decoder:   "plain",
		},
	}
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "default"
	}
	if cfg.MaxReviewRounds <= 0 {
		cfg.MaxReviewRounds = 3
	}
	if cfg.MaxWorkRounds <= 0 {
		cfg.MaxWorkRounds = 100
	}
	if cfg.CLITimeoutSeconds <= 0 {
		cfg.CLITimeoutSeconds = int((10 * time.Minute).Seconds())
	}
	if cfg.GitTimeoutSeconds <= 0 {
		cfg.GitTimeoutSeconds = 60
	}
	if cfg.GitMainBranch == "" {
		cfg.GitMainBranch = "main"
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "feat/"
	}
	if cfg.RepoName == "" {
		cfg.RepoName = "meowdev-output"
	}
	if cfg.WorkSweepCron == "" {
		cfg.WorkSweepCron = "*/5 * * * *"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "meowdev.db")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.HomeDir, "output")
	}
	if len(cfg.Cats) == 0 {
		cfg.Cats = DefaultCats()
	}
	for i := range cfg.Cats {
		if cfg.Cats[i].Decoder == "" {
			cfg.Cats[i].Decoder = "plain"
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("MEOWDEV_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("MEOWDEV_SESSION_ID"); raw != "" {
		cfg.SessionID = raw
	}
	if raw := os.Getenv("MEOWDEV_TRACE_EXPORTER"); raw != "" {
		cfg.TraceExporter = raw
	}
	if raw := os.Getenv("MEOWDEV_WORK_DIR"); raw != "" {
		cfg.WorkDir = raw
	}
	if raw := os.Getenv("MEOWDEV_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("MEOWDEV_CLI_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.CLITimeoutSeconds = v
		}
	}
	if raw := os.Getenv("MEOWDEV_MAX_REVIEW_ROUNDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxReviewRounds = v
		}
	}
}

// loadSouls resolves each cat's persona text: soul_file relative to the
// home dir when present, the built-in text otherwise.
func loadSouls(cfg *Config) {
	for i := range cfg.Cats {
		c := &cfg.Cats[i]
		if c.SoulFile != "" {
			path := c.SoulFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(cfg.HomeDir, path)
			}
			if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
				c.Soul = string(b)
				continue
			}
		}
		c.Soul = builtinSoul(c)
	}
}

func builtinSoul(c *CatEntry) string {
	switch c.ID {
	case "arch":
		return "You are Arch酱, a Persian cat and the team's chief architect. " +
			"Aloof, precise, and exacting. You analyze requirements, produce formal " +
			"architecture plans, and review code without mercy but with fairness. " +
			"You speak tersely and occasionally adjust your monocle."
	case "stack":
		return "You are Stack喵, an orange tabby and the team's full-stack engineer. " +
			"Enthusiastic and chatty, you turn plans into working code fast and love " +
			"celebrating small wins. You end excited sentences with 喵!"
	case "pixel":
		return "You are Pixel咪, a calico cat and the team's UI/UX designer. " +
			"Artistic and gentle, you care about palettes, typography, and how things " +
			"feel. You sprinkle your replies with ✨ and speak softly."
	default:
		return fmt.Sprintf("You are %s, a %s working as %s on a three-cat dev team.",
			c.Name, c.Breed, c.Role)
	}
}
