package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestNormalizeFillsDefaults(t *testing.T) {
	c := &Config{
		HorizonDays:  -3,
		LookbackDays: -1,
		Store:        " Postgres ",
		Google:       GoogleConfig{CalendarIDs: []string{" a@x.com", "", "b@x.com "}},
	}
	c.Normalize()

	assert.Equal(t, "UTC", c.Timezone)
	assert.Equal(t, 7, c.HorizonDays)
	assert.Equal(t, 0, c.LookbackDays)
	assert.Equal(t, StorePostgres, c.Store)
	assert.Equal(t, ".", c.Google.TokenDir)
	assert.Equal(t, "archive-state.json", c.StateFile)
	assert.Equal(t, "*/15 * * * *", c.Schedule)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, c.Google.CalendarIDs)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	c := DefaultConfig()
	c.Timezone = "Europe/Paris"
	c.CalDAV.CalendarName = "From file"

	err := c.ApplyEnv(envMap(map[string]string{
		"PRIMARY_TIMEZONE":     "America/New_York",
		"GOOGLE_CALENDAR_IDS":  "primary,work@x.com",
		"ARCHIVE_STORE":        "memory",
		"ARCHIVE_HORIZON_DAYS": "14",
		"LOG_LEVEL":            "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", c.Timezone)
	assert.Equal(t, []string{"primary", "work@x.com"}, c.Google.CalendarIDs)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Equal(t, 14, c.HorizonDays)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "From file", c.CalDAV.CalendarName)
}

func TestApplyEnvBadHorizon(t *testing.T) {
	c := DefaultConfig()
	err := c.ApplyEnv(envMap(map[string]string{"ARCHIVE_HORIZON_DAYS": "soon"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "memory store",
			mutate: func(c *Config) { c.Store = StoreMemory },
		},
		{
			name: "caldav store",
			mutate: func(c *Config) {
				c.CalDAV = CalDAVConfig{Username: "u", Password: "p", CalendarName: "Archive"}
			},
		},
		{
			name:    "caldav without credentials",
			mutate:  func(c *Config) { c.CalDAV.CalendarName = "Archive" },
			wantErr: "ICLOUD_USERNAME",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store = StorePostgres },
			wantErr: "POSTGRES_DSN",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Store = "s3" },
			wantErr: "unknown store",
		},
		{
			name: "bad timezone",
			mutate: func(c *Config) {
				c.Store = StoreMemory
				c.Timezone = "Mars/Olympus"
			},
			wantErr: "invalid timezone",
		},
		{
			name: "bad schedule",
			mutate: func(c *Config) {
				c.Store = StoreMemory
				c.Schedule = "every tuesday"
			},
			wantErr: "invalid schedule",
		},
		{
			name: "no calendars",
			mutate: func(c *Config) {
				c.Store = StoreMemory
				c.Google.CalendarIDs = nil
			},
			wantErr: "GOOGLE_CALENDAR_IDS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.Google.CalendarIDs = []string{"primary"}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	for _, k := range []string{"ARCHIVE_STORE", "POSTGRES_DSN", "ICLOUD_CALENDAR_NAME", "ARCHIVE_HORIZON_DAYS"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "calarchive.yaml")
	data := `
timezone: Asia/Seoul
horizon_days: 30
store: postgres
postgres_dsn: postgres://localhost/archive?sslmode=disable
divider: "\n---\n"
google:
  calendar_ids: [primary]
caldav:
  calendar_name: Archive
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, c.HorizonDays)
	assert.Equal(t, StorePostgres, c.Store)
	assert.Equal(t, "\n---\n", c.Divider)
	assert.Equal(t, "Archive", c.CalDAV.CalendarName)
	assert.Equal(t, 1, c.LookbackDays)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
