package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/walkingbuddy/globals"
)

const (
	defaultBackendURL        = "http://localhost:8000"
	defaultReconnectDelay    = 3 * time.Second
	defaultRefreshSchedule   = "@every 30s"
	defaultJoinFailurePolicy = "keep"
	defaultPollInterval      = 1500 * time.Millisecond
	defaultHistoryLimit      = 200
	defaultNameCacheSize     = 512
	defaultCacheType         = "memory"
	defaultLogLevel          = "INFO"
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (WALKINGBUDDY_*) and the command line flags.
type Config struct {
	BackendConfig BackendConfig `mapstructure:"backend"`
	PushConfig    PushConfig    `mapstructure:"push"`
	SyncConfig    SyncConfig    `mapstructure:"sync"`
	ChatConfig    ChatConfig    `mapstructure:"chat"`
	NamesConfig   NamesConfig   `mapstructure:"names"`
	CacheConfig   CacheConfig   `mapstructure:"cache"`
	LogLevel      string        `mapstructure:"log_level"`
}

// BackendConfig points to the remote HTTP backend owning rooms, users and sessions.
type BackendConfig struct {
	URL       string `mapstructure:"url"`
	UserAgent string `mapstructure:"user_agent"`
}

// PushConfig configures the websocket push channel. If URL is empty it is derived from the backend URL.
type PushConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// SyncConfig configures the periodic snapshot refresh (a cron spec, f.e. "@every 30s") and what happens to an
// optimistic join when the server rejects it ("keep" or "rollback").
type SyncConfig struct {
	RefreshSchedule   string `mapstructure:"refresh_schedule"`
	JoinFailurePolicy string `mapstructure:"join_failure_policy"`
}

type ChatConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

type NamesConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// CacheConfig configures the durable local cache. Type is one of memory, buntdb, sqlite, postgres, gorm-sqlite,
// gorm-postgres or redis. DSN is a file name (buntdb, sqlite), a connection string (postgres) or an address
// (redis). File based caches are guarded by a lock file at LockPath (default: DSN + ".lock").
type CacheConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	LockPath  string `mapstructure:"lock_path"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("backend-url", "", "base url of the walkingbuddy backend")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("cache-type", "", "local cache type")
	flagSet.String("cache-dsn", "", "local cache file name / connection string")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// flagKeys maps the normalized flag names to their (nested) configuration keys.
var flagKeys = map[string]string{
	"backend_url": "backend.url",
	"log_level":   "log_level",
	"cache_type":  "cache.type",
	"cache_dsn":   "cache.dsn",
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Flags from flagSet
// (may be nil) override file and environment values. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	v.SetDefault("backend.url", defaultBackendURL)
	v.SetDefault("push.reconnect_delay", defaultReconnectDelay)
	v.SetDefault("sync.refresh_schedule", defaultRefreshSchedule)
	v.SetDefault("sync.join_failure_policy", defaultJoinFailurePolicy)
	v.SetDefault("chat.poll_interval", defaultPollInterval)
	v.SetDefault("chat.history_limit", defaultHistoryLimit)
	v.SetDefault("names.cache_size", defaultNameCacheSize)
	v.SetDefault("cache.type", defaultCacheType)
	v.SetDefault("log_level", defaultLogLevel)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		for name, key := range flagKeys {
			flag := flagSet.Lookup(name)
			if flag == nil {
				continue
			}
			err := v.BindPFlag(key, flag)
			if err != nil {
				globals.AppLogger.Error("could not bind flag (ignored)", "flag", name, "error", err)
			}
		}
	}
	v.SetEnvPrefix("WALKINGBUDDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}

// Default returns the configuration that ReadConfiguration yields without any file, environment or flags.
func Default() *Config {
	return &Config{
		BackendConfig: BackendConfig{URL: defaultBackendURL},
		PushConfig:    PushConfig{ReconnectDelay: defaultReconnectDelay},
		SyncConfig: SyncConfig{
			RefreshSchedule:   defaultRefreshSchedule,
			JoinFailurePolicy: defaultJoinFailurePolicy,
		},
		ChatConfig:  ChatConfig{PollInterval: defaultPollInterval, HistoryLimit: defaultHistoryLimit},
		NamesConfig: NamesConfig{CacheSize: defaultNameCacheSize},
		CacheConfig: CacheConfig{Type: defaultCacheType},
		LogLevel:    defaultLogLevel,
	}
}
