package smarthub

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
	DefaultTimezone   = "GMT"

	// SessionTTL is the longest a pooled HTTP session is reused before it is
	// dropped and recreated.
	SessionTTL = 300 * time.Second
)

var (
	emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	hostRegexp  = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Config holds everything needed to talk to one SmartHub account.
type Config struct {
	Email      string
	Password   string
	AccountID  string
	Host       string
	Timezone   string
	TOTPSecret string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NormalizeHost lower-cases the host and strips any scheme or path the user
// pasted along with it.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if u, err := url.Parse(host); err == nil {
			host = u.Host
		}
	}
	return strings.TrimSuffix(host, "/")
}

// Normalize returns a copy of the config with defaults applied and the email
// and host cleaned up.
func (c Config) Normalize() Config {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.AccountID = strings.TrimSpace(c.AccountID)
	c.Host = NormalizeHost(c.Host)
	c.TOTPSecret = strings.TrimSpace(c.TOTPSecret)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Validate checks a normalized config.
func (c Config) Validate() error {
	if !emailRegexp.MatchString(c.Email) {
		return errors.New("invalid email format")
	}
	if c.Password == "" {
		return errors.New("password cannot be empty")
	}
	if c.AccountID == "" {
		return errors.New("account id cannot be empty")
	}
	if len(c.Host) > 253 || !hostRegexp.MatchString(c.Host) {
		return fmt.Errorf("invalid host format: %q", c.Host)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Configured registers the SmartHub flags and returns a client that is ready
// once lflag.Configure has been called.
func Configured() *Client {
	email := lflag.String("smarthub-email", "", "SmartHub account email")
	password := lflag.String("smarthub-password", "", "SmartHub account password")
	accountID := lflag.String("smarthub-account-id", "", "SmartHub account number")
	host := lflag.String("smarthub-host", "", "SmartHub portal host (e.g. example.smarthub.coop)")
	timezone := lflag.String("smarthub-timezone", DefaultTimezone, "IANA time zone the provider reports usage in")
	totpSecret := lflag.String("smarthub-mfa-totp", "", "Optional TOTP shared secret for two-factor login")
	timeout := lflag.Duration("smarthub-timeout", DefaultTimeout, "Timeout for each SmartHub request")
	retryDelay := lflag.Duration("smarthub-retry-delay", DefaultRetryDelay, "Delay between retries of a SmartHub request")
	maxRetries := DefaultMaxRetries
	lflag.JSON(&maxRetries, "smarthub-max-retries", maxRetries, "Maximum attempts for a single SmartHub request")

	c := &Client{}

	lflag.Do(func() {
		cfg := Config{
			Email:      *email,
			Password:   *password,
			AccountID:  *accountID,
			Host:       *host,
			Timezone:   *timezone,
			TOTPSecret: *totpSecret,
			Timeout:    *timeout,
			MaxRetries: maxRetries,
			RetryDelay: *retryDelay,
		}
		if err := c.init(cfg); err != nil {
			panic(fmt.Sprintf("smarthub config invalid: %v", err))
		}
	})

	return c
}
