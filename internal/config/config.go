package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Archive store backends.
const (
	StoreCalDAV   = "caldav"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// GoogleConfig holds provider credentials and the calendars to read.
type GoogleConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	CalendarIDs  []string `yaml:"calendar_ids"`
	// TokenDir is where token-<account>.json files are looked up.
	TokenDir string `yaml:"token_dir"`
}

// CalDAVConfig describes the CalDAV archive calendar.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone assumed for timestamps without an offset.
	Timezone string `yaml:"timezone"`

	// HorizonDays is the number of future days archived per run.
	HorizonDays int `yaml:"horizon_days"`

	// LookbackDays is the number of past days re-examined per run.
	LookbackDays int `yaml:"lookback_days"`

	// Store selects the archive backend: caldav, postgres or memory.
	Store string `yaml:"store"`

	Google GoogleConfig `yaml:"google"`
	CalDAV CalDAVConfig `yaml:"caldav"`

	// PostgresDSN is the lib/pq connection string for the postgres store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Divider separates descriptions merged from duplicate appointments.
	Divider string `yaml:"divider"`

	// StateFile records instance keys already archived.
	StateFile string `yaml:"state_file"`

	// Schedule is a cron expression for repeated archive runs.
	Schedule string `yaml:"schedule"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:     "UTC",
		HorizonDays:  7,
		LookbackDays: 1,
		Store:        StoreCalDAV,
		Google:       GoogleConfig{TokenDir: "."},
		StateFile:    "archive-state.json",
		Schedule:     "*/15 * * * *",
		LogLevel:     "info",
	}
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.LookbackDays < 0 {
		c.LookbackDays = 0
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.Google.TokenDir == "" {
		c.Google.TokenDir = d.Google.TokenDir
	}
	if c.StateFile == "" {
		c.StateFile = d.StateFile
	}
	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	ids := c.Google.CalendarIDs[:0]
	for _, id := range c.Google.CalendarIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.Google.CalendarIDs = ids
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate reports every missing or invalid value needed by an archive run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err))
	}
	if len(c.Google.CalendarIDs) == 0 {
		errs = append(errs, errors.New("GOOGLE_CALENDAR_IDS environment variable not set"))
	}
	switch c.Store {
	case StoreCalDAV:
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" {
			errs = append(errs, errors.New("ICLOUD_USERNAME and ICLOUD_APP_SPECIFIC_PASSWORD are required for the caldav store"))
		}
		if c.CalDAV.CalendarName == "" {
			errs = append(errs, errors.New("ICLOUD_CALENDAR_NAME is required for the caldav store"))
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want caldav, postgres or memory)", c.Store))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides file values with the environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Timezone, "PRIMARY_TIMEZONE")
	set(&c.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	set(&c.CalDAV.Username, "ICLOUD_USERNAME")
	set(&c.CalDAV.Password, "ICLOUD_APP_SPECIFIC_PASSWORD")
	set(&c.CalDAV.CalendarName, "ICLOUD_CALENDAR_NAME")
	set(&c.Store, "ARCHIVE_STORE")
	set(&c.PostgresDSN, "POSTGRES_DSN")
	set(&c.LogLevel, "LOG_LEVEL")

	if v := getenv("GOOGLE_CALENDAR_IDS"); v != "" {
		c.Google.CalendarIDs = strings.Split(v, ",")
	}
	if v := getenv("ARCHIVE_HORIZON_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ARCHIVE_HORIZON_DAYS %q: %w", v, err)
		}
		c.HorizonDays = n
	}
	return nil
}

// Load reads the YAML file at path (when path is not empty), applies
// environment overrides and fills defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}
