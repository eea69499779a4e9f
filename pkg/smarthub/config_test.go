package smarthub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Email:     " User@Example.com ",
		Password:  "pass",
		AccountID: " 123 ",
		Host:      "https://Example.SmartHub.coop/",
	}
}

func TestConfig(t *testing.T) {
	t.Run("Normalize", func(t *testing.T) {
		cfg := validConfig().Normalize()
		assert.Equal(t, "user@example.com", cfg.Email)
		assert.Equal(t, "123", cfg.AccountID)
		assert.Equal(t, "example.smarthub.coop", cfg.Host)
		assert.Equal(t, DefaultTimezone, cfg.Timezone)
		assert.Equal(t, DefaultTimeout, cfg.Timeout)
		assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
		require.NoError(t, cfg.Validate())
	})

	t.Run("NormalizeHost", func(t *testing.T) {
		assert.Equal(t, "example.smarthub.coop", NormalizeHost("example.smarthub.coop"))
		assert.Equal(t, "example.smarthub.coop", NormalizeHost("http://example.smarthub.coop"))
		assert.Equal(t, "example.smarthub.coop", NormalizeHost("https://example.smarthub.coop/path"))
	})

	t.Run("Invalid", func(t *testing.T) {
		for name, mutate := range map[string]func(*Config){
			"email":    func(c *Config) { c.Email = "nope" },
			"password": func(c *Config) { c.Password = "" },
			"account":  func(c *Config) { c.AccountID = "  " },
			"host":     func(c *Config) { c.Host = "localhost" },
			"timezone": func(c *Config) { c.Timezone = "Mars/Olympus" },
		} {
			t.Run(name, func(t *testing.T) {
				cfg := validConfig()
				mutate(&cfg)
				assert.Error(t, cfg.Normalize().Validate())
			})
		}
	})

	t.Run("New", func(t *testing.T) {
		cfg := validConfig()
		cfg.Timezone = "America/New_York"
		c, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, "https://example.smarthub.coop", c.baseURL)
		assert.Equal(t, "123", c.AccountID())
		assert.Equal(t, "America/New_York", c.Location().String())
		require.NoError(t, c.Close())

		cfg.Email = ""
		_, err = New(cfg)
		assert.Error(t, err)
	})
}

func TestErrors(t *testing.T) {
	cause := errors.New("boom")
	for _, err := range []error{
		&AuthError{Msg: "a", Err: cause},
		&ConnectionError{Msg: "b", StatusCode: 502, Err: cause},
		&DataError{Msg: "c", Err: cause},
		&APIError{Msg: "d", Err: cause},
	} {
		assert.ErrorIs(t, err, ErrAPI)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "boom")
	}
	assert.Contains(t, (&ConnectionError{Msg: "x", StatusCode: 502}).Error(), "status 502")
	assert.True(t, IsAuthError(&AuthError{}))
	assert.False(t, IsAuthError(&DataError{}))
}
