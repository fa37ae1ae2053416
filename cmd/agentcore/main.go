package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/spanwire/agentcore/agentmetrics"
	"github.com/spanwire/agentcore/app"
	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/configwatcher"
	"github.com/spanwire/agentcore/internal/health"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/normalize"
	"github.com/spanwire/agentcore/route"
	"github.com/spanwire/agentcore/spans"
	"github.com/spanwire/agentcore/types"
)

// set by the build
var BuildID string
var version string

type graphLogger struct {
}

func (g graphLogger) Debugf(format string, v ...interface{}) {
	fmt.Printf(format, v...)
	fmt.Println()
}

func main() {
	opts, err := config.NewCmdEnvOptions(os.Args)
	if err != nil {
		fmt.Printf("Command line parsing error '%s' -- call with --help for usage.\n", err)
		os.Exit(1)
	}

	if BuildID == "" {
		version = "dev"
	} else {
		version = BuildID
	}

	if opts.Version {
		fmt.Println("Version: " + version)
		os.Exit(0)
	}

	a := app.App{
		Version: version,
	}

	c, err := config.NewConfig(opts, func(err error) {
		if a.Logger != nil {
			a.Logger.Error().WithField("error", err).Logf("error loading config")
		}
	})
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}

	var reply *types.ConnectReply
	if opts.ConnectReply != "" {
		reply = &types.ConnectReply{}
		if err := config.LoadInto(opts.ConnectReply, reply); err != nil {
			fmt.Printf("unable to load connect reply: %v\n", err)
			os.Exit(1)
		}
		if err := reply.Validate(); err != nil {
			fmt.Printf("invalid connect reply: %v\n", err)
			os.Exit(1)
		}
	}

	if opts.Validate {
		fmt.Println("Config validated successfully.")
		os.Exit(0)
	}

	lgr, err := logger.New(c)
	if err != nil {
		fmt.Printf("unable to set up logging: %v\n", err)
		os.Exit(1)
	}

	// we need to include all the metrics types so we can inject them in case they're needed
	// but we only want to instantiate the ones that are enabled with non-null values
	var promMetrics metrics.Metrics = &metrics.NullMetrics{}
	if c.GetPrometheusMetricsConfig().Enabled {
		promMetrics = &metrics.PromMetrics{}
	}
	genericMetrics := metrics.NewMultiMetrics()

	var g inject.Graph
	if opts.Debug {
		g.Logger = graphLogger{}
	}
	objects := []*inject.Object{
		{Value: c},
		{Value: lgr},
		{Value: clockwork.NewRealClock()},
		{Value: &logSender{}},
		{Value: promMetrics, Name: "promMetrics"},
		{Value: &metrics.AgentMetrics{}, Name: "agentMetrics"},
		{Value: genericMetrics, Name: "genericMetrics"},
		{Value: normalize.NewNormalizer(c, lgr, normalize.URL), Name: "urlNormalizer"},
		{Value: normalize.NewNormalizer(c, lgr, normalize.Plain), Name: "metricNormalizer"},
		{Value: normalize.NewNormalizer(c, lgr, normalize.Plain), Name: "transactionNormalizer"},
		{Value: normalize.NewSegmentTermsNormalizer(lgr)},
		{Value: agentmetrics.NewMapper()},
		{Value: &agentmetrics.Aggregator{}},
		{Value: &spans.Pipeline{}},
		{Value: version, Name: "version"},
		{Value: &health.Health{}},
		{Value: &configwatcher.ConfigWatcher{}},
		{Value: &a},
		{Value: &route.Router{}},
		{Value: &syntheticSpans{PerSecond: opts.SyntheticSpans}},
	}
	if err := g.Provide(objects...); err != nil {
		fmt.Printf("failed to provide injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	if err := g.Populate(); err != nil {
		fmt.Printf("failed to populate injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	// the logger provided to startstop must be valid before any service is
	// started, meaning it can't rely on injected configs. make a custom logger
	// just for this step
	ststLogger := logrus.New()
	ststLogger.SetLevel(logrus.DebugLevel)

	defer startstop.Stop(g.Objects(), ststLogger)
	if err := startstop.Start(g.Objects(), ststLogger); err != nil {
		fmt.Printf("failed to start injected dependencies. error: %+v\n", err)
		os.Exit(1)
	}

	if reply != nil {
		if err := a.ApplyConnectReply(reply); err != nil {
			a.Logger.Error().Logf("unable to apply connect reply: %v", err)
		}
	} else {
		a.Logger.Warn().Logf("no connect reply given; spans will not stream and harvests carry no run id")
	}

	// SIGHUP reloads the config files
	sigsToReload := make(chan os.Signal, 1)
	signal.Notify(sigsToReload, syscall.SIGHUP)
	go func() {
		for range sigsToReload {
			a.Logger.Info().Logf("Caught SIGHUP; reloading config")
			c.Reload()
		}
	}()

	// set up signal channel to exit
	sigsToExit := make(chan os.Signal, 1)
	signal.Notify(sigsToExit, syscall.SIGINT, syscall.SIGTERM)

	// block on our signal handler to exit
	sig := <-sigsToExit
	a.Logger.Info().Logf("Caught signal \"%s\"", sig)
}
