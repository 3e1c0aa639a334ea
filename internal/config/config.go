package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config defines settings shared by the lane-agent, payment-terminal and
// dashboard binaries. Each binary validates the sections it actually uses.
type Config struct {
	Database struct {
		DSN string `yaml:"dsn" env:"PARKGATE_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr            string `yaml:"addr" env:"PARKGATE_REDIS_ADDR"`
		Password        string `yaml:"password" env:"PARKGATE_REDIS_PASSWORD"`
		DB              int    `yaml:"db" env:"PARKGATE_REDIS_DB"`
		CooldownSeconds int    `yaml:"cooldownSeconds" env:"PARKGATE_ENTRY_COOLDOWN"`
	} `yaml:"redis"`
	Journal struct {
		Path string `yaml:"path" env:"PARKGATE_JOURNAL_PATH"`
	} `yaml:"journal"`
	Billing struct {
		RatePerHour int64 `yaml:"ratePerHour" env:"PARKGATE_RATE_PER_HOUR"`
	} `yaml:"billing"`
	Link struct {
		Port                string `yaml:"port" env:"PARKGATE_LINK_PORT"`
		BaudRate            int    `yaml:"baudRate" env:"PARKGATE_LINK_BAUD"`
		ReadTimeoutSeconds  int    `yaml:"readTimeoutSeconds" env:"PARKGATE_LINK_READ_TIMEOUT"`
		ReadyTimeoutSeconds int    `yaml:"readyTimeoutSeconds" env:"PARKGATE_LINK_READY_TIMEOUT"`
		WriteTimeoutSeconds int    `yaml:"writeTimeoutSeconds" env:"PARKGATE_LINK_WRITE_TIMEOUT"`
		GateDwellSeconds    int    `yaml:"gateDwellSeconds" env:"PARKGATE_GATE_DWELL"`
	} `yaml:"link"`
	Lane struct {
		Direction      string `yaml:"direction" env:"PARKGATE_LANE_DIRECTION"`
		HTTPPort       string `yaml:"httpPort" env:"PARKGATE_LANE_HTTP_PORT"`
		EntryThreshold int    `yaml:"entryThreshold" env:"PARKGATE_VOTE_THRESHOLD_ENTRY"`
		ExitThreshold  int    `yaml:"exitThreshold" env:"PARKGATE_VOTE_THRESHOLD_EXIT"`
	} `yaml:"lane"`
	Dashboard struct {
		HTTPPort                 string `yaml:"httpPort" env:"PARKGATE_DASHBOARD_HTTP_PORT"`
		JWTSecret                string `yaml:"jwtSecret" env:"PARKGATE_JWT_SECRET"`
		TokenTTLMinutes          int    `yaml:"tokenTtlMinutes" env:"PARKGATE_TOKEN_TTL"`
		AdminUsername            string `yaml:"adminUsername" env:"PARKGATE_ADMIN_USERNAME"`
		AdminPassword            string `yaml:"adminPassword" env:"PARKGATE_ADMIN_PASSWORD"`
		LiveRefreshSeconds       int    `yaml:"liveRefreshSeconds" env:"PARKGATE_LIVE_REFRESH"`
		LiveWriteTimeoutSeconds  int    `yaml:"liveWriteTimeoutSeconds" env:"PARKGATE_LIVE_WRITE_TIMEOUT"`
		ReconcileIntervalSeconds int    `yaml:"reconcileIntervalSeconds" env:"PARKGATE_RECONCILE_INTERVAL"`
	} `yaml:"dashboard"`
}

// Lane directions.
const (
	DirectionEntry = "entry"
	DirectionExit  = "exit"
)

// Load reads configuration from the optional YAML file and the environment,
// then applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Journal.Path = "plates_log.csv"
	cfg.Billing.RatePerHour = 500
	cfg.Redis.CooldownSeconds = 300
	cfg.Link.BaudRate = 9600
	cfg.Link.ReadTimeoutSeconds = 5
	cfg.Link.ReadyTimeoutSeconds = 2
	cfg.Link.WriteTimeoutSeconds = 5
	cfg.Link.GateDwellSeconds = 15
	cfg.Lane.Direction = DirectionEntry
	cfg.Lane.HTTPPort = "8091"
	cfg.Lane.EntryThreshold = 2
	cfg.Lane.ExitThreshold = 3
	cfg.Dashboard.HTTPPort = "8090"
	cfg.Dashboard.TokenTTLMinutes = 60
	cfg.Dashboard.LiveRefreshSeconds = 5
	cfg.Dashboard.LiveWriteTimeoutSeconds = 10
	cfg.Dashboard.ReconcileIntervalSeconds = 300

	if err := load(cfg); err != nil {
		return nil, err
	}

	if cfg.Billing.RatePerHour <= 0 {
		return nil, errors.New("config: ratePerHour must be positive")
	}
	switch cfg.Lane.Direction {
	case DirectionEntry, DirectionExit:
	default:
		return nil, fmt.Errorf("config: unknown lane direction %q", cfg.Lane.Direction)
	}
	return cfg, nil
}

// RequireDatabase validates the database section for binaries that persist.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	return nil
}

// RequireDashboardAuth validates login settings for the dashboard binary.
func (c *Config) RequireDashboardAuth() error {
	if strings.TrimSpace(c.Dashboard.JWTSecret) == "" {
		return errors.New("config: dashboard jwt secret required")
	}
	return nil
}

// LaneAddress returns the lane-agent listen address in :port form.
func (c *Config) LaneAddress() string {
	return listenAddress(c.Lane.HTTPPort, "8091")
}

// DashboardAddress returns the dashboard listen address in :port form.
func (c *Config) DashboardAddress() string {
	return listenAddress(c.Dashboard.HTTPPort, "8090")
}

func listenAddress(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// EntryCooldown returns the duplicate-entry damping window.
func (c *Config) EntryCooldown() time.Duration {
	if c.Redis.CooldownSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CooldownSeconds) * time.Second
}

// TokenTTL returns the dashboard token lifetime.
func (c *Config) TokenTTL() time.Duration {
	if c.Dashboard.TokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Dashboard.TokenTTLMinutes) * time.Minute
}

// LiveRefresh returns the websocket stats push interval.
func (c *Config) LiveRefresh() time.Duration {
	if c.Dashboard.LiveRefreshSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Dashboard.LiveRefreshSeconds) * time.Second
}

// LiveWriteTimeout bounds one websocket frame write to a live client.
func (c *Config) LiveWriteTimeout() time.Duration {
	return seconds(c.Dashboard.LiveWriteTimeoutSeconds, 10)
}

// ReconcileInterval returns the periodic journal merge interval.
func (c *Config) ReconcileInterval() time.Duration {
	if c.Dashboard.ReconcileIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Dashboard.ReconcileIntervalSeconds) * time.Second
}

// VoteThreshold returns the plate voter threshold for the configured direction.
// Exit is deliberately stricter: letting an unpaid vehicle out is costlier than
// asking a driver at the entry barrier to wait one more frame.
func (c *Config) VoteThreshold() int {
	if c.Lane.Direction == DirectionExit {
		if c.Lane.ExitThreshold > 0 {
			return c.Lane.ExitThreshold
		}
		return 3
	}
	if c.Lane.EntryThreshold > 0 {
		return c.Lane.EntryThreshold
	}
	return 2
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// LinkReadTimeout bounds the wait for a tag data line.
func (c *Config) LinkReadTimeout() time.Duration { return seconds(c.Link.ReadTimeoutSeconds, 5) }

// LinkReadyTimeout bounds the wait for the READY acknowledgment.
func (c *Config) LinkReadyTimeout() time.Duration { return seconds(c.Link.ReadyTimeoutSeconds, 2) }

// LinkWriteTimeout bounds the wait for a balance-write response.
func (c *Config) LinkWriteTimeout() time.Duration { return seconds(c.Link.WriteTimeoutSeconds, 5) }

// GateDwell is how long the gate stays open for physical traversal.
func (c *Config) GateDwell() time.Duration { return seconds(c.Link.GateDwellSeconds, 15) }
