package config

import (
	"sync"
	"time"
)

// MockConfig will respond with whatever config it's set to do during
// initialization
type MockConfig struct {
	Callbacks                   []ConfigReloadCallback
	Hash                        string
	LicenseKey                  string
	AppName                     string
	ConfigReloadInterval        time.Duration
	GetLoggerLevelVal           Level
	GetLoggerFormatVal          string
	GetHarvestPeriodVal         time.Duration
	GetApdexTVal                time.Duration
	GetNamingRulesVal           []NamingRule
	GetIgnoreRulesVal           []string
	EnforceBackstop             bool
	ReverseNamingRules          bool
	GetSpanEventsConfigVal      SpanEventsConfig
	GetInfiniteTracingConfigVal InfiniteTracingConfig
	GetPrometheusMetricsVal     PrometheusMetricsConfig
	GetStatusConfigVal          StatusConfig

	Mux sync.RWMutex
}

func (m *MockConfig) RegisterReloadCallback(callback ConfigReloadCallback) {
	m.Mux.Lock()
	m.Callbacks = append(m.Callbacks, callback)
	m.Mux.Unlock()
}

func (m *MockConfig) Reload() {
	m.Mux.RLock()
	callbacks := append([]ConfigReloadCallback(nil), m.Callbacks...)
	hash := m.Hash
	m.Mux.RUnlock()
	for _, cb := range callbacks {
		cb(hash)
	}
}

func (m *MockConfig) GetHash() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.Hash
}

func (m *MockConfig) GetLicenseKey() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.LicenseKey
}

func (m *MockConfig) GetConfigReloadInterval() time.Duration {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.ConfigReloadInterval
}

func (m *MockConfig) GetAppName() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.AppName
}

func (m *MockConfig) GetLoggerLevel() Level {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetLoggerLevelVal
}

func (m *MockConfig) GetLoggerFormat() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetLoggerFormatVal
}

func (m *MockConfig) GetHarvestPeriod() time.Duration {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	if m.GetHarvestPeriodVal == 0 {
		return time.Minute
	}
	return m.GetHarvestPeriodVal
}

func (m *MockConfig) GetApdexT() time.Duration {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	if m.GetApdexTVal == 0 {
		return 100 * time.Millisecond
	}
	return m.GetApdexTVal
}

func (m *MockConfig) GetNamingRules() []NamingRule {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetNamingRulesVal
}

func (m *MockConfig) GetIgnoreRules() []string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetIgnoreRulesVal
}

func (m *MockConfig) GetEnforceBackstop() bool {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.EnforceBackstop
}

func (m *MockConfig) GetReverseNamingRules() bool {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.ReverseNamingRules
}

func (m *MockConfig) GetSpanEventsConfig() SpanEventsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetSpanEventsConfigVal
}

func (m *MockConfig) GetInfiniteTracingConfig() InfiniteTracingConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetInfiniteTracingConfigVal
}

func (m *MockConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetPrometheusMetricsVal
}

func (m *MockConfig) GetStatusConfig() StatusConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetStatusConfigVal
}
