package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8090")
	p, err := Port("TEST_PORT", "1")
	require.NoError(t, err)
	require.Equal(t, "8090", p)

	t.Setenv("TEST_PORT", "99999")
	_, err = Port("TEST_PORT", "1")
	require.Error(t, err)
}

func TestTypedHelpersFallBack(t *testing.T) {
	t.Setenv("TEST_INT", "nope")
	t.Setenv("TEST_DURATION", "-1s")
	t.Setenv("TEST_BOOL", "maybe")

	require.Equal(t, 3, Int("TEST_INT", 3))
	require.Equal(t, 10*time.Second, Duration("TEST_DURATION", 10*time.Second))
	require.True(t, Bool("TEST_BOOL", true))

	t.Setenv("TEST_INT", "7")
	t.Setenv("TEST_DURATION", "250ms")
	t.Setenv("TEST_BOOL", "off")
	require.Equal(t, 7, Int("TEST_INT", 3))
	require.Equal(t, 250*time.Millisecond, Duration("TEST_DURATION", time.Second))
	require.False(t, Bool("TEST_BOOL", true))
}

func TestLoad(t *testing.T) {
	var cfg struct {
		Port    string        `env:"TEST_LOAD_PORT" envDefault:"8080"`
		Timeout time.Duration `env:"TEST_LOAD_TIMEOUT" envDefault:"10s"`
		URL     string        `env:"TEST_LOAD_URL,required"`
	}
	require.Error(t, Load(&cfg))

	t.Setenv("TEST_LOAD_URL", "postgres://localhost/db")
	t.Setenv("TEST_LOAD_TIMEOUT", "2s")
	require.NoError(t, Load(&cfg))
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 2*time.Second, cfg.Timeout)
	require.Equal(t, "postgres://localhost/db", cfg.URL)
}
