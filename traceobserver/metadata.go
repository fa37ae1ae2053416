package traceobserver

import (
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Environment variables read by test harnesses that run a fake trace
// observer. Each is attached to the stream metadata only when it is numeric.
var testMetadataEnv = []struct {
	env string
	key string
}{
	{"NEWRELIC_GRPCCONNECTION_METADATA_FLAKY", "flaky"},
	{"NEWRELIC_GRPCCONNECTION_METADATA_DELAY", "delay"},
	{"NEWRELIC_GRPCCONNECTION_METADATA_FLAKY_CODE", "flaky_code"},
	{"NEWRELIC_GRPCCONNECTION_METADATA_SUCCESS_DELAY_MS", "success_delay_ms"},
}

// buildMetadata returns the metadata sent when a stream is opened. Header
// names from the collector are lower-cased.
func buildMetadata(licenseKey, runID string, requestHeaders map[string]string) metadata.MD {
	md := metadata.MD{}
	md.Set("license_key", licenseKey)
	md.Set("agent_run_token", runID)
	for k, v := range requestHeaders {
		md.Set(strings.ToLower(k), v)
	}

	for _, tm := range testMetadataEnv {
		val, ok := os.LookupEnv(tm.env)
		if !ok {
			continue
		}
		if _, err := strconv.ParseFloat(val, 64); err != nil {
			continue
		}
		md.Set(tm.key, val)
	}
	return md
}
