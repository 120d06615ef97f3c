// Package config loads backuppeer's runtime configuration the way the
// teacher's pkg/config does: viper reads a base YAML file plus an optional
// environment-specific override, with .env values merged in via godotenv
// for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"backuppeer/internal/errs"
)

// localDevSignalingURL is the only compiled-in signaling default. It is
// never a production endpoint; the production signaling URL must always
// come from explicit configuration.
const localDevSignalingURL = "ws://127.0.0.1:8080/ws"

// Config is the unified runtime configuration for a backuppeer process.
type Config struct {
	Home string `mapstructure:"home"`

	Signaling struct {
		URL            string        `mapstructure:"url"`
		DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"signaling"`

	Transport struct {
		ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
		KeepaliveInterval     time.Duration `mapstructure:"keepalive_interval"`
		KeepaliveMissedLimit  int           `mapstructure:"keepalive_missed_limit"`
		ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts"`
		ReconnectBaseDelay    time.Duration `mapstructure:"reconnect_base_delay"`
		CachedSessionWindow   time.Duration `mapstructure:"cached_session_window"`
		BackpressureTimeout   time.Duration `mapstructure:"backpressure_timeout"`
	} `mapstructure:"transport"`

	Transfer struct {
		ChunkSize        int `mapstructure:"chunk_size"`
		MaxChunkAttempts int `mapstructure:"max_chunk_attempts"`
	} `mapstructure:"transfer"`

	RateLimit struct {
		CoarseWindow       time.Duration `mapstructure:"coarse_window"`
		CoarseMax          int           `mapstructure:"coarse_max"`
		BurstWindow        time.Duration `mapstructure:"burst_window"`
		BurstMax           int           `mapstructure:"burst_max"`
		BanDuration        time.Duration `mapstructure:"ban_duration"`
		CoarseBanThreshold float64       `mapstructure:"coarse_ban_threshold"`
		BurstBanThreshold  float64       `mapstructure:"burst_ban_threshold"`
	} `mapstructure:"rate_limit"`

	Allocation struct {
		MaxOffered int64 `mapstructure:"max_offered"`
	} `mapstructure:"allocation"`

	Store struct {
		Path              string `mapstructure:"path"`
		PBKDF2Iterations  int    `mapstructure:"pbkdf2_iterations"`
		EncryptionSeed    string `mapstructure:"encryption_seed"`
	} `mapstructure:"store"`

	Verification struct {
		ChallengeCadence time.Duration `mapstructure:"challenge_cadence"`
		ChallengeWindow  time.Duration `mapstructure:"challenge_window"`
		IssuanceSpacing  time.Duration `mapstructure:"issuance_spacing"`
	} `mapstructure:"verification"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// setDefaults fills in every configuration value with a concrete default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("signaling.url", localDevSignalingURL)
	v.SetDefault("signaling.dial_timeout", 30*time.Second)

	v.SetDefault("transport.connect_timeout", 30*time.Second)
	v.SetDefault("transport.keepalive_interval", 30*time.Second)
	v.SetDefault("transport.keepalive_missed_limit", 2)
	v.SetDefault("transport.reconnect_max_attempts", 5)
	v.SetDefault("transport.reconnect_base_delay", time.Second)
	v.SetDefault("transport.cached_session_window", time.Hour)
	v.SetDefault("transport.backpressure_timeout", 30*time.Second)

	v.SetDefault("transfer.chunk_size", 64*1024)
	v.SetDefault("transfer.max_chunk_attempts", 3)

	v.SetDefault("rate_limit.coarse_window", 60*time.Second)
	v.SetDefault("rate_limit.coarse_max", 100)
	v.SetDefault("rate_limit.burst_window", time.Second)
	v.SetDefault("rate_limit.burst_max", 20)
	v.SetDefault("rate_limit.ban_duration", 5*time.Minute)
	v.SetDefault("rate_limit.coarse_ban_threshold", 0.9)
	v.SetDefault("rate_limit.burst_ban_threshold", 0.95)

	v.SetDefault("allocation.max_offered", int64(1)<<40)

	v.SetDefault("store.pbkdf2_iterations", 100_000)

	v.SetDefault("verification.challenge_cadence", 24*time.Hour)
	v.SetDefault("verification.challenge_window", 5*time.Minute)
	v.SetDefault("verification.issuance_spacing", time.Second)

	v.SetDefault("logging.level", "info")
}

// AppConfig holds the most recently loaded configuration.
var AppConfig Config

// Load reads configuration files and environment overrides for env (may be
// empty) and returns the populated Config. As a side effect it also
// populates the package-level AppConfig for CLI-style call sites, since the
// CLI surface is an external collaborator that needs a process-wide handle.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // optional local .env; absence is not an error

	v := viper.New()
	setDefaults(v)

	home, err := defaultHome()
	if err != nil {
		return nil, errs.Wrap(err, "resolve home directory")
	}
	v.SetDefault("home", home)
	v.SetDefault("store.path", filepath.Join(home, "backuppeer.db"))

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errs.Wrap(err, "read config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errs.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	v.SetEnvPrefix("BACKUPPEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, "unmarshal config")
	}

	AppConfig = cfg
	return &cfg, nil
}

func defaultHome() (string, error) {
	if h := os.Getenv("BACKUPPEER_HOME"); h != "" {
		return h, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".backup-peer"), nil
}
