package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/geeko/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Prefix string
	}

	Engine struct {
		PublishInterval time.Duration
		LeaderboardSize int
	}
}

func defaults() testConfig {
	var c testConfig
	c.HTTP.Port = 8080
	c.Redis.Prefix = "geeko"
	c.Engine.PublishInterval = 200 * time.Millisecond
	c.Engine.LeaderboardSize = 10
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file   string
		env    map[string]string
		assert func(t *testing.T, c testConfig, err error)
	}{
		"defaults only": {
			assert: func(t *testing.T, c testConfig, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 8080, c.HTTP.Port)
				assert.Equal(t, "geeko", c.Redis.Prefix)
				assert.Empty(t, c.Redis.Addrs)
				assert.Equal(t, 200*time.Millisecond, c.Engine.PublishInterval)
			},
		},
		"file overrides defaults": {
			file: "http:\n  port: 9090\nengine:\n  publishInterval: 1s\nredis:\n  addrs: [\"localhost:6379\"]\n",
			assert: func(t *testing.T, c testConfig, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 9090, c.HTTP.Port)
				assert.Equal(t, time.Second, c.Engine.PublishInterval)
				assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
				assert.Equal(t, 10, c.Engine.LeaderboardSize, "untouched keys keep their default")
			},
		},
		"environment overrides file": {
			file: "http:\n  port: 9090\n",
			env: map[string]string{
				"TEST_HTTP_PORT":              "7070",
				"TEST_REDIS_ADDRS":            "a:6379,b:6379",
				"TEST_ENGINE_PUBLISHINTERVAL": "50ms",
				"TEST_ENGINE_LEADERBOARDSIZE": "3",
			},
			assert: func(t *testing.T, c testConfig, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 7070, c.HTTP.Port)
				assert.Equal(t, []string{"a:6379", "b:6379"}, c.Redis.Addrs)
				assert.Equal(t, 50*time.Millisecond, c.Engine.PublishInterval)
				assert.Equal(t, 3, c.Engine.LeaderboardSize)
			},
		},
		"malformed file": {
			file: "http: [",
			assert: func(t *testing.T, _ testConfig, err error) {
				assert.Error(t, err)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var file string
			if tt.file != "" {
				file = writeFile(t, "config.yaml", tt.file)
			}

			c := defaults()
			err := config.Load(file, "TEST", &c)
			tt.assert(t, c, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	c := defaults()
	assert.Error(t, config.Load(filepath.Join(t.TempDir(), "nope.yaml"), "TEST", &c))
}

func TestLoadEnv(t *testing.T) {
	p := writeFile(t, ".env", "GEEKO_DOTENV_NEW=from-file\nGEEKO_DOTENV_SET=from-file\n")
	t.Setenv("GEEKO_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("GEEKO_DOTENV_NEW") })

	require.NoError(t, config.LoadEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("GEEKO_DOTENV_NEW"))
	assert.Equal(t, "from-env", os.Getenv("GEEKO_DOTENV_SET"), "variables already set win")
}
