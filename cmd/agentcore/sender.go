package main

import (
	"context"

	"github.com/spanwire/agentcore/logger"
)

// logSender stands in for the collector transport. It logs each harvest and
// discards the payload.
type logSender struct {
	Logger logger.Logger `inject:""`
}

func (s *logSender) Send(ctx context.Context, method string, payload []byte) ([]byte, error) {
	s.Logger.Debug().WithFields(map[string]interface{}{
		"method":        method,
		"payload_bytes": len(payload),
	}).Logf("harvest ready for the collector")
	return nil, nil
}
