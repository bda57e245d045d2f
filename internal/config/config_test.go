package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/site-receiver/internal/config"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/receiver", cfg.RootDir)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "X-Remote-User", cfg.PrincipalHeader)
	assert.Equal(t, time.Duration(0), cfg.PluginTimeout)
	assert.False(t, cfg.CheckOKResponse)
	assert.Empty(t, cfg.Site)
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"RECEIVER_ROOT_DIR":          "/srv/fitbit",
		"RECEIVER_SITE":              "siteA",
		"RECEIVER_PLUGIN_TIMEOUT":    "30s",
		"RECEIVER_CHECK_OK_RESPONSE": "true",
		"RECEIVER_MIRROR_URL":        "gs://archive/uploads",
	})
	require.NoError(t, err)

	cfg.ApplyDefaults()
	assert.Equal(t, "siteA", cfg.Site)
	assert.Equal(t, 30*time.Second, cfg.PluginTimeout)
	assert.True(t, cfg.CheckOKResponse)
	assert.Equal(t, filepath.Join("/srv/fitbit", "plugins"), cfg.PluginDir)
	assert.Equal(t, filepath.Join("/srv/fitbit", "logs", "siteA.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join("/srv/fitbit", "d", "siteA"), cfg.SiteDir())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromInvalidDuration(t *testing.T) {
	_, err := config.LoadFrom(map[string]string{"RECEIVER_PLUGIN_TIMEOUT": "soon"})
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{RootDir: "/srv", Site: "siteA", MaxUploadBytes: 1}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "missing root", mutate: func(c *config.Config) { c.RootDir = "" }},
		{name: "missing site", mutate: func(c *config.Config) { c.Site = "" }},
		{name: "nested site", mutate: func(c *config.Config) { c.Site = "a/b" }},
		{name: "parent site", mutate: func(c *config.Config) { c.Site = ".." }},
		{name: "zero upload limit", mutate: func(c *config.Config) { c.MaxUploadBytes = 0 }},
		{name: "negative timeout", mutate: func(c *config.Config) { c.PluginTimeout = -time.Second }},
		{name: "unknown mirror scheme", mutate: func(c *config.Config) { c.MirrorURL = "ftp://host/x" }},
		{name: "mirror without bucket", mutate: func(c *config.Config) { c.MirrorURL = "s3:///prefix" }},
		{name: "mirror without directory", mutate: func(c *config.Config) { c.MirrorURL = "file://" }},
	}

	require.NoError(t, valid().Validate())
	for _, mirror := range []string{"gs://bucket/raw", "s3://bucket", "file:///srv/archive"} {
		c := valid()
		c.MirrorURL = mirror
		assert.NoError(t, c.Validate(), mirror)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), config.ErrInvalidConfig)
		})
	}
}
