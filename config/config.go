package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"huawei.com/wasm-runner/wasm/cache"
)

const (
	// AppName is used for the cache directory and the logger name.
	AppName = "wasm-runner"

	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "WASM_RUNNER"
)

var validate = validator.New()

// MemoryCacheConfig configures the in-process tier of the compiled module cache.
type MemoryCacheConfig struct {
	// Cache type one of: lfu, lru, arc or simple.
	Type string `hcl:"type,optional" validate:"oneof=lfu lru arc simple"`
	Size int    `hcl:"size,optional" validate:"gt=0"`
	// EntryTTL specify TTL of cache entry in seconds, 0 disables expiration.
	EntryTTL int  `hcl:"entry_ttl,optional" validate:"gte=0"`
	Enabled  bool `hcl:"enabled,optional"`
}

type BackendConfig struct {
	Name string `hcl:"name,label" validate:"required"`
	// Enabled defaults to true when omitted.
	Enabled *bool `hcl:"enabled,optional"`
}

// Config contains everything a run needs to know besides the module itself.
type Config struct {
	// CacheDir is the root of the compiled module cache, one subdirectory per compiler.
	CacheDir     string `hcl:"cache_dir,optional" validate:"required_if=DisableCache false"`
	DisableCache bool   `hcl:"disable_cache,optional"`
	// Engine and Compiler pin the backend, empty means pick automatically.
	Engine      string             `hcl:"engine,optional"`
	Compiler    string             `hcl:"compiler,optional"`
	LogLevel    string             `hcl:"log_level,optional" validate:"oneof=trace debug info warn error off"`
	Backends    []BackendConfig    `hcl:"backend,block" validate:"dive"`
	MemoryCache *MemoryCacheConfig `hcl:"memory_cache,block"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, AppName, "compiled")
	}

	return &Config{
		CacheDir:    cacheDir,
		LogLevel:    "warn",
		MemoryCache: defaultMemoryCache(),
	}
}

func defaultMemoryCache() *MemoryCacheConfig {
	return &MemoryCacheConfig{
		Type:     "lfu",
		Size:     5,
		EntryTTL: 600,
	}
}

// Disabled returns the backends switched off with `enabled = false`.
func (c *Config) Disabled() map[string]bool {
	disabled := make(map[string]bool)

	for _, backend := range c.Backends {
		if backend.Enabled != nil && !*backend.Enabled {
			disabled[backend.Name] = true
		}
	}

	return disabled
}

// Memory returns the memory tier configuration, or false when it is off.
func (c *Config) Memory() (cache.MemoryConfig, bool) {
	if c.MemoryCache == nil || !c.MemoryCache.Enabled {
		return cache.MemoryConfig{}, false
	}

	return cache.MemoryConfig{
		Type:     c.MemoryCache.Type,
		Size:     c.MemoryCache.Size,
		EntryTTL: time.Second * time.Duration(c.MemoryCache.EntryTTL),
	}, true
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	return nil
}

// LoadOptions points Load at an optional config file and the command line flags.
type LoadOptions struct {
	// Path of an HCL or JSON config file, empty to skip.
	Path  string
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys.
	FlagKeys map[string]string
}

// overlayKeys are the settings that environment variables and flags may override.
var overlayKeys = []string{"cache_dir", "disable_cache", "engine", "compiler", "log_level"}

// Load builds a Config from defaults, the config file, WASM_RUNNER_* environment
// variables and flags, later sources winning.
func Load(opts LoadOptions) (*Config, error) {
	conf := Default()

	if opts.Path != "" {
		if err := hclsimple.DecodeFile(opts.Path, nil, conf); err != nil {
			return nil, errors.Wrapf(err, "unable to load config file %s", opts.Path)
		}

		if conf.MemoryCache == nil {
			conf.MemoryCache = defaultMemoryCache()
		}

		fillMemoryDefaults(conf.MemoryCache)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	for _, key := range overlayKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "unable to bind environment for %s", key)
		}
	}

	if opts.Flags != nil {
		for flag, key := range opts.FlagKeys {
			if f := opts.Flags.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "unable to bind flag --%s", flag)
				}
			}
		}
	}

	if v.IsSet("cache_dir") {
		conf.CacheDir = v.GetString("cache_dir")
	}

	if v.IsSet("disable_cache") {
		conf.DisableCache = v.GetBool("disable_cache")
	}

	if v.IsSet("engine") {
		conf.Engine = v.GetString("engine")
	}

	if v.IsSet("compiler") {
		conf.Compiler = v.GetString("compiler")
	}

	if v.IsSet("log_level") {
		conf.LogLevel = v.GetString("log_level")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func fillMemoryDefaults(conf *MemoryCacheConfig) {
	defaults := defaultMemoryCache()

	if conf.Type == "" {
		conf.Type = defaults.Type
	}

	if conf.Size == 0 {
		conf.Size = defaults.Size
	}
}
