package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"hpvcal/internal/agenda"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Europe/Helsinki"
	defaultRefreshCron = "*/15 * * * *"
	defaultWindow      = "31d"
	defaultCacheTTL    = "5m"
	defaultCacheDir    = "./var/ics-cache"
)

// FeedConfig describes one feed kind ("laji") and the ICS URLs behind it.
type FeedConfig struct {
	// Kind is the identifier used in ?kind= queries (e.g. "salibandy").
	Kind string `yaml:"kind" json:"kind"`
	// Aliases are extra query values resolving to this kind.
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	// Name is a human-friendly label.
	Name string   `yaml:"name" json:"name"`
	URLs []string `yaml:"urls" json:"urls"`
}

// ClubConfig configures title classification and home/away parsing.
type ClubConfig struct {
	// Anchor is the token identifying the own club in titles (e.g. "HPV").
	Anchor string `yaml:"anchor" json:"anchor"`
	// Name is the display name used for the own club in parsed matches.
	Name               string   `yaml:"name" json:"name"`
	TournamentKeywords []string `yaml:"tournament_keywords" json:"tournament_keywords"`
	PracticeKeywords   []string `yaml:"practice_keywords" json:"practice_keywords"`
	SocialKeywords     []string `yaml:"social_keywords" json:"social_keywords"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone for floating ICS times and the refresh
	// schedule (e.g. "Europe/Helsinki").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic feed refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Window is the windowed-mode horizon as a human duration ("31d", "2w").
	Window string `yaml:"window" json:"window"`

	// NextMaxSkips bounds how many excluded instants next-only mode steps over.
	NextMaxSkips int `yaml:"next_max_skips" json:"next_max_skips"`

	// EventsCacheTTL is how old a feed snapshot may get before a request
	// triggers a refresh.
	EventsCacheTTL string `yaml:"events_cache_ttl" json:"events_cache_ttl"`

	// CacheDir holds the conditional-GET cache of raw feed bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// DefaultKind is used when a request names no kind or an unknown one.
	DefaultKind string `yaml:"default_kind" json:"default_kind"`

	Club  ClubConfig   `yaml:"club" json:"club"`
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
	CORS  CORSConfig   `yaml:"cors" json:"cors"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	rules := agenda.DefaultClubRules()
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		LogLevel:       "info",
		RefreshCron:    defaultRefreshCron,
		Window:         defaultWindow,
		NextMaxSkips:   agenda.DefaultMaxSkips,
		EventsCacheTTL: defaultCacheTTL,
		CacheDir:       defaultCacheDir,
		DefaultKind:    "jaakiekko",
		Club: ClubConfig{
			Anchor:             rules.Anchor,
			Name:               rules.Name,
			TournamentKeywords: rules.TournamentKeywords,
			PracticeKeywords:   rules.PracticeKeywords,
			SocialKeywords:     rules.SocialKeywords,
		},
		Feeds: []FeedConfig{
			{
				Kind:    "jaakiekko",
				Aliases: []string{"jääkiekko"},
				Name:    "HPV Jääkiekko",
				URLs:    []string{"https://hpvjaakiekko.nimenhuuto.com/calendar/ical"},
			},
			{
				Kind: "salibandy",
				Name: "HPV Salibandy",
				URLs: []string{"https://hpvsalibandy.nimenhuuto.com/calendar/ical"},
			},
			{
				Kind: "jalkapallo",
				Name: "HPV Jalkapallo",
				URLs: []string{"https://testihpv.nimenhuuto.com/calendar/ical"},
			},
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Window == "" {
		c.Window = defaultWindow
	}
	if c.NextMaxSkips <= 0 {
		c.NextMaxSkips = agenda.DefaultMaxSkips
	}
	if c.EventsCacheTTL == "" {
		c.EventsCacheTTL = defaultCacheTTL
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}

	defaults := agenda.DefaultClubRules()
	if c.Club.Anchor == "" {
		c.Club.Anchor = defaults.Anchor
	}
	if c.Club.Name == "" {
		c.Club.Name = c.Club.Anchor
	}
	if c.Club.TournamentKeywords == nil {
		c.Club.TournamentKeywords = defaults.TournamentKeywords
	}
	if c.Club.PracticeKeywords == nil {
		c.Club.PracticeKeywords = defaults.PracticeKeywords
	}
	if c.Club.SocialKeywords == nil {
		c.Club.SocialKeywords = defaults.SocialKeywords
	}

	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		c.Feeds[i].Kind = strings.ToLower(strings.TrimSpace(c.Feeds[i].Kind))
	}
	if c.DefaultKind == "" && len(c.Feeds) > 0 {
		c.DefaultKind = c.Feeds[0].Kind
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.WindowDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CacheTTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}

	seen := map[string]string{}
	for _, f := range c.Feeds {
		if f.Kind == "" {
			errs = append(errs, errors.New("feed with empty kind"))
			continue
		}
		if f.Kind == "all" {
			errs = append(errs, errors.New(`feed kind "all" is reserved`))
		}
		for _, name := range append([]string{f.Kind}, f.Aliases...) {
			name = strings.ToLower(name)
			if owner, dup := seen[name]; dup && owner != f.Kind {
				errs = append(errs, fmt.Errorf("feed name %q used by both %q and %q", name, owner, f.Kind))
			}
			seen[name] = f.Kind
		}
	}
	if c.DefaultKind != "" && len(c.Feeds) > 0 && !slices.ContainsFunc(c.Feeds, func(f FeedConfig) bool { return f.Kind == c.DefaultKind }) {
		errs = append(errs, fmt.Errorf("default_kind %q is not a configured feed", c.DefaultKind))
	}
	return errors.Join(errs...)
}

// WindowDuration parses Window ("31d", "2w", "36h").
func (c *Config) WindowDuration() (time.Duration, error) {
	d, err := str2duration.ParseDuration(c.Window)
	if err != nil {
		return 0, fmt.Errorf("window %q: %w", c.Window, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window %q: must be positive", c.Window)
	}
	return d, nil
}

// CacheTTL parses EventsCacheTTL. Zero disables on-demand refresh.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := str2duration.ParseDuration(c.EventsCacheTTL)
	if err != nil {
		return 0, fmt.Errorf("events_cache_ttl %q: %w", c.EventsCacheTTL, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("events_cache_ttl %q: must not be negative", c.EventsCacheTTL)
	}
	return d, nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ClubRules converts the club section into classifier/parser rules.
func (c *Config) ClubRules() agenda.ClubRules {
	return agenda.ClubRules{
		Anchor:             c.Club.Anchor,
		Name:               c.Club.Name,
		TournamentKeywords: c.Club.TournamentKeywords,
		PracticeKeywords:   c.Club.PracticeKeywords,
		SocialKeywords:     c.Club.SocialKeywords,
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes c to path; see the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".hpvcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
