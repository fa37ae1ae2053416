package config

import (
	"fmt"
	"sync"
	"time"
)

type fileConfig struct {
	mainConfig    *configContents
	mainHash      string
	opts          *CmdEnv
	callbacks     []ConfigReloadCallback
	errorCallback func(error)
	mux           sync.RWMutex
}

type configContents struct {
	General           GeneralConfig           `yaml:"General" json:"General" toml:"General"`
	Logger            LoggerConfig            `yaml:"Logger" json:"Logger" toml:"Logger"`
	Harvest           HarvestConfig           `yaml:"Harvest" json:"Harvest" toml:"Harvest"`
	Apdex             ApdexConfig             `yaml:"Apdex" json:"Apdex" toml:"Apdex"`
	Rules             RulesConfig             `yaml:"Rules" json:"Rules" toml:"Rules"`
	URLNormalization  URLNormalizationConfig  `yaml:"URLNormalization" json:"URLNormalization" toml:"URLNormalization"`
	FeatureFlags      FeatureFlagsConfig      `yaml:"FeatureFlags" json:"FeatureFlags" toml:"FeatureFlags"`
	SpanEvents        SpanEventsConfig        `yaml:"SpanEvents" json:"SpanEvents" toml:"SpanEvents"`
	InfiniteTracing   InfiniteTracingConfig   `yaml:"InfiniteTracing" json:"InfiniteTracing" toml:"InfiniteTracing"`
	PrometheusMetrics PrometheusMetricsConfig `yaml:"PrometheusMetrics" json:"PrometheusMetrics" toml:"PrometheusMetrics"`
	Status            StatusConfig            `yaml:"Status" json:"Status" toml:"Status"`
}

type GeneralConfig struct {
	LicenseKey           string   `yaml:"LicenseKey" json:"LicenseKey" toml:"LicenseKey" cmdenv:"LicenseKey"`
	AppName              string   `yaml:"AppName" json:"AppName" toml:"AppName" cmdenv:"AppName"`
	ConfigReloadInterval Duration `yaml:"ConfigReloadInterval" json:"ConfigReloadInterval" toml:"ConfigReloadInterval"`
}

type LoggerConfig struct {
	Level  Level  `yaml:"Level" json:"Level" toml:"Level" default:"info"`
	Format string `yaml:"Format" json:"Format" toml:"Format" default:"text"`
}

type HarvestConfig struct {
	Period Duration `yaml:"Period" json:"Period" toml:"Period" default:"60s"`
}

type ApdexConfig struct {
	T Duration `yaml:"T" json:"T" toml:"T" default:"100ms"`
}

type RulesConfig struct {
	Name   []NamingRule `yaml:"Name" json:"Name" toml:"Name"`
	Ignore []string     `yaml:"Ignore" json:"Ignore" toml:"Ignore"`
}

type URLNormalizationConfig struct {
	EnforceBackstop bool `yaml:"EnforceBackstop" json:"EnforceBackstop" toml:"EnforceBackstop"`
}

type FeatureFlagsConfig struct {
	ReverseNamingRules bool `yaml:"ReverseNamingRules" json:"ReverseNamingRules" toml:"ReverseNamingRules"`
}

// NewConfig creates a new Config object from the locations named in opts. The
// command line and environment override values from the files.
func NewConfig(opts *CmdEnv, errorCallback func(error)) (Config, error) {
	mainconf, hash, err := readConfig(opts)
	if err != nil {
		return nil, err
	}

	cfg := &fileConfig{
		mainConfig:    mainconf,
		mainHash:      hash,
		opts:          opts,
		errorCallback: errorCallback,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfig(opts *CmdEnv) (*configContents, string, error) {
	mainconf := &configContents{}
	hash, err := readConfigInto(mainconf, opts.ConfigLocations, opts)
	if err != nil {
		return nil, "", err
	}
	// the command line level is a string, so it can't go through a cmdenv tag
	if opts.LogLevel != "" {
		mainconf.Logger.Level = ParseLevel(opts.LogLevel)
	}
	return mainconf, hash, nil
}

func (f *fileConfig) validate() error {
	if f.mainConfig.Logger.Level == UnknownLevel {
		return fmt.Errorf("invalid Logger.Level")
	}
	switch f.mainConfig.Logger.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid Logger.Format %q: must be text or json", f.mainConfig.Logger.Format)
	}
	if f.mainConfig.InfiniteTracing.SpanEvents.QueueSize < 1 {
		return fmt.Errorf("InfiniteTracing.SpanEvents.QueueSize must be positive")
	}
	if f.mainConfig.InfiniteTracing.BatchSize < 1 {
		return fmt.Errorf("InfiniteTracing.BatchSize must be positive")
	}
	for i, r := range f.mainConfig.Rules.Name {
		if r.Pattern == "" {
			return fmt.Errorf("Rules.Name[%d] has no Pattern", i)
		}
	}
	return nil
}

func (f *fileConfig) RegisterReloadCallback(cb ConfigReloadCallback) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.callbacks = append(f.callbacks, cb)
}

func (f *fileConfig) Reload() {
	mainconf, hash, err := readConfig(f.opts)
	if err != nil {
		if f.errorCallback != nil {
			f.errorCallback(err)
		}
		return
	}

	f.mux.Lock()
	if hash == f.mainHash {
		f.mux.Unlock()
		return
	}
	f.mainConfig = mainconf
	f.mainHash = hash
	callbacks := append([]ConfigReloadCallback(nil), f.callbacks...)
	f.mux.Unlock()

	for _, cb := range callbacks {
		cb(hash)
	}
}

func (f *fileConfig) GetHash() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainHash
}

func (f *fileConfig) GetLicenseKey() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General.LicenseKey
}

func (f *fileConfig) GetAppName() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General.AppName
}

func (f *fileConfig) GetConfigReloadInterval() time.Duration {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return time.Duration(f.mainConfig.General.ConfigReloadInterval)
}

func (f *fileConfig) GetLoggerLevel() Level {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Level
}

func (f *fileConfig) GetLoggerFormat() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Format
}

func (f *fileConfig) GetHarvestPeriod() time.Duration {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return time.Duration(f.mainConfig.Harvest.Period)
}

func (f *fileConfig) GetApdexT() time.Duration {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return time.Duration(f.mainConfig.Apdex.T)
}

func (f *fileConfig) GetNamingRules() []NamingRule {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return append([]NamingRule(nil), f.mainConfig.Rules.Name...)
}

func (f *fileConfig) GetIgnoreRules() []string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return append([]string(nil), f.mainConfig.Rules.Ignore...)
}

func (f *fileConfig) GetEnforceBackstop() bool {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.URLNormalization.EnforceBackstop
}

func (f *fileConfig) GetReverseNamingRules() bool {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.FeatureFlags.ReverseNamingRules
}

func (f *fileConfig) GetSpanEventsConfig() SpanEventsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.SpanEvents
}

func (f *fileConfig) GetInfiniteTracingConfig() InfiniteTracingConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.InfiniteTracing
}

func (f *fileConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.PrometheusMetrics
}

func (f *fileConfig) GetStatusConfig() StatusConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Status
}
