package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/jessevdk/go-flags"
)

// CmdEnv is a struct that contains all the command line options; it's
// separate from the config struct so that we can apply the command line options
// and env vars after loading the config, and so they don't have to be tied to
// the config struct. Command line options override env vars, and both of them
// override values already in the struct when ApplyTags is called.
// Default values specified in this struct are shown in the help output, but
// most default values should be specified in the config so that the defaults
// system works.
type CmdEnv struct {
	ConfigLocations   []string `short:"c" long:"config" env:"AGENTCORE_CONFIG" env-delim:"," default:"/etc/agentcore/config.yaml" description:"config file or URL to load; can be specified more than once"`
	ConnectReply      string   `long:"connect-reply" env:"AGENTCORE_CONNECT_REPLY" description:"JSON file or URL holding the server-side settings (run id, rules, request headers)"`
	LicenseKey        string   `long:"license-key" env:"NEW_RELIC_LICENSE_KEY" description:"license key sent with every span stream"`
	AppName           string   `long:"app-name" env:"NEW_RELIC_APP_NAME" description:"application name"`
	LogLevel          string   `long:"log-level" env:"AGENTCORE_LOG_LEVEL" description:"logging level (trace, debug, info, warn, error)"`
	TraceObserverHost string   `long:"trace-observer-host" env:"NEW_RELIC_INFINITE_TRACING_TRACE_OBSERVER_HOST" description:"infinite tracing trace observer host"`
	TraceObserverPort int      `long:"trace-observer-port" env:"NEW_RELIC_INFINITE_TRACING_TRACE_OBSERVER_PORT" description:"infinite tracing trace observer port"`
	QueueSize         int      `long:"span-queue-size" env:"NEW_RELIC_INFINITE_TRACING_SPAN_EVENTS_QUEUE_SIZE" description:"maximum number of spans held while the stream is backed up"`
	PromListenAddr    string   `long:"prometheus-listen-addr" env:"AGENTCORE_PROMETHEUS_LISTEN_ADDR" description:"address for the /metrics endpoint"`
	StatusListenAddr  string   `long:"status-listen-addr" env:"AGENTCORE_STATUS_LISTEN_ADDR" description:"address for the health and naming query endpoint"`
	SyntheticSpans    int      `long:"synthetic-spans" description:"number of synthetic spans per second to feed through the pipeline (0 disables)"`
	Validate          bool     `short:"V" long:"validate" description:"load and validate the config, then exit"`
	Version           bool     `short:"v" long:"version" description:"print version number and exit"`
	Debug             bool     `short:"d" long:"debug" description:"log dependency injection details"`
}

func NewCmdEnvOptions(args []string) (*CmdEnv, error) {
	opts := &CmdEnv{}

	if _, err := flags.ParseArgs(opts, args); err != nil {
		switch flagsErr := err.(type) {
		case *flags.Error:
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			return nil, err
		default:
			return nil, err
		}
	}

	return opts, nil
}

// GetField returns the reflect.Value for the field with the given name in the CmdEnvOptions struct.
func (c *CmdEnv) GetField(name string) reflect.Value {
	return reflect.ValueOf(c).Elem().FieldByName(name)
}

func (c *CmdEnv) GetDelimiter(name string) string {
	field, ok := reflect.TypeOf(c).Elem().FieldByName(name)
	if !ok {
		return ""
	}
	return field.Tag.Get("env-delim")
}

// ApplyTags uses reflection to apply the values from the CmdEnv struct to the given struct.
// Any field in the struct that wants to be set from the command line must have a `cmdenv` tag on it that names
// the field in the CmdEnv struct that should be used to set the value. The types must match. If the
// name field in CmdEnv field is the zero value, then it will not be applied.
// A tag may list several CmdEnv fields separated by commas; the first non-zero one wins.
func (c *CmdEnv) ApplyTags(s reflect.Value) error {
	return applyCmdEnvTags(s, c)
}

type getFielder interface {
	GetField(name string) reflect.Value
	GetDelimiter(name string) string
}

// applyCmdEnvTags is a helper function that applies the values from the given GetFielder to the given struct.
// We do it this way to make it easier to test.
func applyCmdEnvTags(s reflect.Value, fielder getFielder) error {
	switch s.Kind() {
	case reflect.Struct:
		t := s.Type()

		for i := 0; i < s.NumField(); i++ {
			field := s.Field(i)
			fieldType := t.Field(i)

			if tags := fieldType.Tag.Get("cmdenv"); tags != "" {
				// this field has a cmdenv tag, so apply the value from opts
				for _, tag := range strings.Split(tags, ",") {
					value := fielder.GetField(tag)
					if !value.IsValid() {
						// if you get this error, you didn't specify cmdenv tags
						// correctly -- its value must be the name of a field in the struct
						return fmt.Errorf("programming error -- invalid field name: %s", tag)
					}
					if !field.CanSet() {
						return fmt.Errorf("programming error -- cannot set new value for: %s", fieldType.Name)
					}

					// don't overwrite values that are already set
					if value.IsZero() {
						continue
					}
					// ensure that the types match
					if fieldType.Type != value.Type() {
						return fmt.Errorf("programming error -- types don't match for field: %s (%v and %v)",
							fieldType.Name, fieldType.Type, value.Type())
					}

					// a slice that arrived as a single delimited env value gets split
					if value.Kind() == reflect.Slice && value.Len() == 1 && value.Type().Elem().Kind() == reflect.String {
						if delim := fielder.GetDelimiter(tag); delim != "" {
							parts := strings.Split(value.Index(0).String(), delim)
							value = reflect.ValueOf(parts)
						}
					}
					field.Set(value)
					break
				}
			}

			// recurse into any nested structs
			err := applyCmdEnvTags(field, fielder)
			if err != nil {
				return err
			}
		}

	case reflect.Ptr:
		if !s.IsNil() {
			return applyCmdEnvTags(s.Elem(), fielder)
		}
	}
	return nil
}
