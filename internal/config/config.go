// Package config loads crusty's settings from crusty.yaml, a .env file and
// CRUSTY_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no explicit path is given. Its absence is not an error.
const DefaultFile = "crusty.yaml"

// ToolKind selects how a stage's command line is executed.
type ToolKind string

const (
	// ToolProcess spawns the command as a subprocess.
	ToolProcess ToolKind = "process"
	// ToolBuiltin runs the in-process function registered for the stage.
	ToolBuiltin ToolKind = "builtin"
)

type Config struct {
	CacheDir    string `yaml:"cache_dir"`
	Offline     bool   `yaml:"offline"`
	Strict      bool   `yaml:"strict"`
	StripPrefix string `yaml:"strip_prefix"`

	Log          LogConfig          `yaml:"log"`
	BuildData    BuildDataConfig    `yaml:"build_data"`
	Intermediary IntermediaryConfig `yaml:"intermediary"`
	HTTP         HTTPConfig         `yaml:"http"`
	Tools        ToolsConfig        `yaml:"tools"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// BuildDataConfig holds the descriptor archive endpoints. CommitURL carries
// one %s for the commit identifier.
type BuildDataConfig struct {
	LatestURL string `yaml:"latest_url"`
	CommitURL string `yaml:"commit_url"`
}

// IntermediaryConfig enables the unified mapping stage. URL may contain
// {version}, replaced with the descriptor's target version.
type IntermediaryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type HTTPConfig struct {
	// Timeout of zero imposes no limit.
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ToolsConfig struct {
	ClassRename  ToolKind `yaml:"class_rename"`
	MemberRename ToolKind `yaml:"member_rename"`
	FinalRename  ToolKind `yaml:"final_rename"`
	Decompile    ToolKind `yaml:"decompile"`
}

const (
	defaultLatestURL       = "https://hub.spigotmc.org/stash/rest/api/latest/projects/SPIGOT/repos/builddata/archive?format=zip"
	defaultCommitURL       = "https://hub.spigotmc.org/stash/rest/api/latest/projects/SPIGOT/repos/builddata/archive?at=%s&format=zip"
	defaultIntermediaryURL = "https://maven.fabricmc.net/net/fabricmc/intermediary/{version}/intermediary-{version}-v2.jar"
	defaultStripPrefix     = "net/minecraft"
	defaultUserAgent       = "crusty"
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		CacheDir:    defaultCacheDir(),
		StripPrefix: defaultStripPrefix,
		Log:         LogConfig{Level: "info"},
		BuildData: BuildDataConfig{
			LatestURL: defaultLatestURL,
			CommitURL: defaultCommitURL,
		},
		Intermediary: IntermediaryConfig{URL: defaultIntermediaryURL},
		HTTP:         HTTPConfig{UserAgent: defaultUserAgent},
		Tools: ToolsConfig{
			ClassRename:  ToolProcess,
			MemberRename: ToolProcess,
			FinalRename:  ToolProcess,
			Decompile:    ToolProcess,
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "crusty")
	}
	return filepath.Join(os.TempDir(), "crusty")
}

// Load reads path (or DefaultFile when path is empty), then .env, then the
// environment. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// optional
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("CRUSTY_CACHE_DIR")); v != "" {
		cfg.CacheDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CRUSTY_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	for name, dst := range map[string]*bool{
		"CRUSTY_OFFLINE":      &cfg.Offline,
		"CRUSTY_STRICT":       &cfg.Strict,
		"CRUSTY_INTERMEDIARY": &cfg.Intermediary.Enabled,
	} {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	return nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if strings.TrimSpace(c.CacheDir) == "" {
		c.CacheDir = d.CacheDir
	}
	if c.StripPrefix == "" {
		c.StripPrefix = d.StripPrefix
	}
	if c.BuildData.LatestURL == "" {
		c.BuildData.LatestURL = d.BuildData.LatestURL
	}
	if c.BuildData.CommitURL == "" {
		c.BuildData.CommitURL = d.BuildData.CommitURL
	}
	if c.Intermediary.URL == "" {
		c.Intermediary.URL = d.Intermediary.URL
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = d.HTTP.UserAgent
	}
	for _, k := range []*ToolKind{&c.Tools.ClassRename, &c.Tools.MemberRename, &c.Tools.FinalRename, &c.Tools.Decompile} {
		if *k == "" {
			*k = ToolProcess
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if !filepath.IsAbs(c.CacheDir) {
		abs, err := filepath.Abs(c.CacheDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("cache_dir: %w", err))
		} else {
			c.CacheDir = abs
		}
	}
	if !strings.Contains(c.BuildData.CommitURL, "%s") {
		errs = append(errs, errors.New("build_data.commit_url must contain %s"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http.timeout must be >= 0"))
	}
	for name, k := range map[string]ToolKind{
		"class_rename":  c.Tools.ClassRename,
		"member_rename": c.Tools.MemberRename,
		"final_rename":  c.Tools.FinalRename,
		"decompile":     c.Tools.Decompile,
	} {
		switch k {
		case ToolProcess, ToolBuiltin:
		default:
			errs = append(errs, fmt.Errorf("tools.%s: unknown kind %q", name, k))
		}
	}
	return errors.Join(errs...)
}

// IntermediaryURL expands the intermediary URL template for version.
func (c *Config) IntermediaryURL(version string) string {
	return strings.ReplaceAll(c.Intermediary.URL, "{version}", version)
}
