package route

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/spanwire/agentcore/app"
	"github.com/spanwire/agentcore/config"
	"github.com/spanwire/agentcore/internal/health"
	"github.com/spanwire/agentcore/logger"
	"github.com/spanwire/agentcore/metrics"
	"github.com/spanwire/agentcore/normalize"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const metricRequests = "Supportability/Agent/Status/Requests"

// Router serves the local status endpoint: liveness and readiness checks,
// the build version and read-only queries against the naming engine.
type Router struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"genericMetrics"`
	Health  health.Reporter `inject:""`
	App     *app.App        `inject:""`

	server *http.Server
}

func (r *Router) Start() error {
	sc := r.Config.GetStatusConfig()
	if !sc.Enabled {
		return nil
	}
	r.Metrics.Register(metrics.Metadata{Name: metricRequests, Type: metrics.Counter, Description: "requests served by the status endpoint"})

	r.server = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           r.newMuxxer(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.Logger.Info().WithString("addr", sc.ListenAddr).Logf("listening for status requests")
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Error().WithString("addr", sc.ListenAddr).Logf("status listener failed: %v", err)
		}
	}()
	return nil
}

func (r *Router) Stop() error {
	if r.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.server.Shutdown(ctx)
}

func (r *Router) newMuxxer() *mux.Router {
	muxxer := mux.NewRouter()

	muxxer.Use(r.setResponseHeaders)
	muxxer.Use(r.requestLogger)
	muxxer.Use(r.panicCatcher)

	muxxer.HandleFunc("/alive", r.alive).Name("liveness check")
	muxxer.HandleFunc("/ready", r.ready).Name("readiness check")
	muxxer.HandleFunc("/version", r.version).Name("report version info")

	queryMuxxer := muxxer.PathPrefix("/query/").Methods("GET").Subrouter()
	queryMuxxer.HandleFunc("/normalize/{kind}", r.normalize).Name("normalize a name")
	queryMuxxer.HandleFunc("/rules/{kind}/{format}", r.rules).Name("list naming rules")

	return muxxer
}

func (r *Router) alive(w http.ResponseWriter, req *http.Request) {
	r.writeStatus(w, "alive", r.Health.IsAlive())
}

func (r *Router) ready(w http.ResponseWriter, req *http.Request) {
	r.writeStatus(w, "ready", r.Health.IsReady())
}

func (r *Router) writeStatus(w http.ResponseWriter, key string, ok bool) {
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	answer := "no"
	if ok {
		answer = "yes"
	}
	w.Write([]byte(fmt.Sprintf(`{"source":"agentcore","%s":"%s"}`, key, answer)))
}

func (r *Router) version(w http.ResponseWriter, req *http.Request) {
	w.Write([]byte(fmt.Sprintf(`{"source":"agentcore","version":"%s"}`, r.App.Version)))
}

type normalizeResponse struct {
	Input   string `json:"input"`
	Value   string `json:"value"`
	Matched bool   `json:"matched"`
	Ignore  bool   `json:"ignore"`
}

// normalize answers /query/normalize/{kind}?name=...
func (r *Router) normalize(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("name")
	if name == "" {
		r.handlerReturnWithError(w, ErrMissingName, nil)
		return
	}

	kind := strings.ToLower(mux.Vars(req)["kind"])
	var result normalize.Result
	switch kind {
	case "url":
		result = r.App.NormalizeURL(name)
	case "metric":
		result = r.App.NormalizeMetric(name)
	case "transaction":
		result = r.App.NormalizeTransaction(name)
	default:
		r.handlerReturnWithError(w, ErrUnknownKind, fmt.Errorf("%q", kind))
		return
	}

	body, err := json.Marshal(normalizeResponse{
		Input:   name,
		Value:   result.Value,
		Matched: result.Matched,
		Ignore:  result.Ignore,
	})
	if err != nil {
		r.handlerReturnWithError(w, ErrJSONBuildFailed, err)
		return
	}
	w.Write(body)
}

type ruleView struct {
	Pattern     string `json:"pattern" yaml:"pattern" toml:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement" toml:"replacement"`
	Precedence  int    `json:"precedence" yaml:"precedence" toml:"precedence"`
	Terminal    bool   `json:"terminal" yaml:"terminal" toml:"terminal"`
	EachSegment bool   `json:"each_segment" yaml:"each_segment" toml:"each_segment"`
	ReplaceAll  bool   `json:"replace_all" yaml:"replace_all" toml:"replace_all"`
	Ignore      bool   `json:"ignore" yaml:"ignore" toml:"ignore"`
}

// rules answers /query/rules/{kind}/{format} with the rules in evaluation
// order.
func (r *Router) rules(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	var n *normalize.Normalizer
	switch strings.ToLower(vars["kind"]) {
	case "url":
		n = r.App.URLs
	case "metric":
		n = r.App.MetricNames
	case "transaction":
		n = r.App.Transactions
	default:
		r.handlerReturnWithError(w, ErrUnknownKind, fmt.Errorf("%q", vars["kind"]))
		return
	}

	rules := n.Rules()
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, ruleView{
			Pattern:     rule.Pattern(),
			Replacement: rule.Replacement(),
			Precedence:  rule.Precedence(),
			Terminal:    rule.IsTerminal(),
			EachSegment: rule.EachSegment(),
			ReplaceAll:  rule.ReplaceAll(),
			Ignore:      rule.Ignore(),
		})
	}
	r.marshalToFormat(w, map[string][]ruleView{"rules": views}, strings.ToLower(vars["format"]))
}

func (r *Router) marshalToFormat(w http.ResponseWriter, obj interface{}, format string) {
	var body []byte
	var err error
	switch format {
	case "json":
		body, err = json.Marshal(obj)
	case "toml":
		body, err = toml.Marshal(obj)
	case "yaml":
		body, err = yaml.Marshal(obj)
	default:
		r.handlerReturnWithError(w, ErrUnknownFormat, fmt.Errorf("%q", format))
		return
	}
	if err != nil {
		r.handlerReturnWithError(w, ErrJSONBuildFailed, err)
		return
	}
	w.Header().Set("Content-Type", "application/"+format)
	w.Write(body)
}
