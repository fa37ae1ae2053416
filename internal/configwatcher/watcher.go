package configwatcher

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/logger"
)

// ConfigWatcher polls the config for changes at the configured reload
// interval. The config itself compares hashes, so reload callbacks only fire
// when the content actually changed.
type ConfigWatcher struct {
	Config config.Config   `inject:""`
	Logger logger.Logger   `inject:""`
	Clock  clockwork.Clock `inject:""`

	done chan struct{}
	wg   sync.WaitGroup
}

// ReloadCallback logs each config change.
func (cw *ConfigWatcher) ReloadCallback(cfgHash string) {
	cw.Logger.Info().WithString("hash", cfgHash).Logf("configuration reloaded")
}

func (cw *ConfigWatcher) Start() error {
	cw.Config.RegisterReloadCallback(cw.ReloadCallback)

	interval := cw.Config.GetConfigReloadInterval()
	if interval <= 0 {
		return nil
	}
	cw.done = make(chan struct{})
	cw.wg.Add(1)
	go cw.poll(cw.Clock.NewTicker(interval))
	return nil
}

func (cw *ConfigWatcher) poll(ticker clockwork.Ticker) {
	defer cw.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-cw.done:
			return
		case <-ticker.Chan():
			cw.Logger.Debug().Logf("polling configuration for changes")
			cw.Config.Reload()
		}
	}
}

func (cw *ConfigWatcher) Stop() error {
	if cw.done != nil {
		close(cw.done)
		cw.wg.Wait()
		cw.done = nil
	}
	return nil
}
