package config

import (
	"time"
)

// Config defines the interface the rest of the code uses to get items from the
// config. There are different implementations of the config using different
// backends to store the config.
type Config interface {
	// RegisterReloadCallback takes a function that will be called whenever the
	// configuration is reloaded. The callback is passed the hash of the
	// configuration that was loaded.
	RegisterReloadCallback(callback ConfigReloadCallback)

	// Reload forces the config to attempt to reload its values. If the config
	// checksum has changed, the reload callbacks will be called.
	Reload()

	// GetHash returns the hash of the currently loaded configuration.
	GetHash() string

	GetLicenseKey() string

	GetAppName() string

	// GetConfigReloadInterval is how often the config files are polled for
	// changes. Zero disables polling.
	GetConfigReloadInterval() time.Duration

	// GetLoggerLevel returns the level of the logger to use.
	GetLoggerLevel() Level

	// GetLoggerFormat returns "text" or "json".
	GetLoggerFormat() string

	// GetHarvestPeriod is how often the metric and span event aggregators
	// hand their data to the collector.
	GetHarvestPeriod() time.Duration

	GetApdexT() time.Duration

	// GetNamingRules returns the locally configured naming rules, in file order.
	GetNamingRules() []NamingRule

	// GetIgnoreRules returns patterns whose matching names are dropped.
	GetIgnoreRules() []string

	// GetEnforceBackstop controls whether an unmatched URL collapses to
	// NormalizedUri/* instead of keeping its raw path.
	GetEnforceBackstop() bool

	GetReverseNamingRules() bool

	GetSpanEventsConfig() SpanEventsConfig

	GetInfiniteTracingConfig() InfiniteTracingConfig

	GetPrometheusMetricsConfig() PrometheusMetricsConfig

	// GetStatusConfig controls the local HTTP endpoint that answers health
	// checks and naming queries.
	GetStatusConfig() StatusConfig
}

type ConfigReloadCallback func(configHash string)

// NamingRule is a naming rule as written in a config file. Unset fields take
// their defaults when the rule is loaded into a normalizer.
type NamingRule struct {
	Pattern        string       `yaml:"Pattern" json:"Pattern" toml:"Pattern"`
	Name           string       `yaml:"Name" json:"Name" toml:"Name"`
	Precedence     *int         `yaml:"Precedence,omitempty" json:"Precedence,omitempty" toml:"Precedence,omitempty"`
	TerminateChain *DefaultTrue `yaml:"TerminateChain,omitempty" json:"TerminateChain,omitempty" toml:"TerminateChain,omitempty"`
	ReplaceAll     bool         `yaml:"ReplaceAll" json:"ReplaceAll" toml:"ReplaceAll"`
	Flags          string       `yaml:"Flags" json:"Flags" toml:"Flags"`
}

type SpanEventsConfig struct {
	Enabled          *DefaultTrue `yaml:"Enabled,omitempty" json:"Enabled,omitempty" toml:"Enabled,omitempty"`
	MaxSamplesStored int          `yaml:"MaxSamplesStored" json:"MaxSamplesStored" toml:"MaxSamplesStored" default:"2000"`
}

type TraceObserverConfig struct {
	Host             string `yaml:"Host" json:"Host" toml:"Host" cmdenv:"TraceObserverHost"`
	Port             int    `yaml:"Port" json:"Port" toml:"Port" default:"443" cmdenv:"TraceObserverPort"`
	Insecure         bool   `yaml:"Insecure" json:"Insecure" toml:"Insecure"`
	RootCertificates string `yaml:"RootCertificates" json:"RootCertificates" toml:"RootCertificates"`
}

type InfiniteTracingSpanEvents struct {
	QueueSize int `yaml:"QueueSize" json:"QueueSize" toml:"QueueSize" default:"10000" cmdenv:"QueueSize"`
}

type InfiniteTracingConfig struct {
	TraceObserver  TraceObserverConfig       `yaml:"TraceObserver" json:"TraceObserver" toml:"TraceObserver"`
	SpanEvents     InfiniteTracingSpanEvents `yaml:"SpanEvents" json:"SpanEvents" toml:"SpanEvents"`
	Batching       *DefaultTrue              `yaml:"Batching,omitempty" json:"Batching,omitempty" toml:"Batching,omitempty"`
	BatchSize      int                       `yaml:"BatchSize" json:"BatchSize" toml:"BatchSize" default:"100"`
	BatchInterval  Duration                  `yaml:"BatchInterval" json:"BatchInterval" toml:"BatchInterval" default:"5s"`
	Compression    *DefaultTrue              `yaml:"Compression,omitempty" json:"Compression,omitempty" toml:"Compression,omitempty"`
	ReconnectDelay Duration                  `yaml:"ReconnectDelay" json:"ReconnectDelay" toml:"ReconnectDelay" default:"15s"`
}

// Enabled reports whether spans should be streamed instead of sampled locally.
func (c InfiniteTracingConfig) Enabled() bool {
	return c.TraceObserver.Host != ""
}

type PrometheusMetricsConfig struct {
	Enabled    bool   `yaml:"Enabled" json:"Enabled" toml:"Enabled"`
	ListenAddr string `yaml:"ListenAddr" json:"ListenAddr" toml:"ListenAddr" default:"localhost:2112" cmdenv:"PromListenAddr"`
}

type StatusConfig struct {
	Enabled    bool   `yaml:"Enabled" json:"Enabled" toml:"Enabled"`
	ListenAddr string `yaml:"ListenAddr" json:"ListenAddr" toml:"ListenAddr" default:"localhost:8092" cmdenv:"StatusListenAddr"`
}
