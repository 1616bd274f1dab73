package kennelguard

import (
	"io"

	"github.com/MrEthical07/kennelguard/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant engine outcome.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers audit events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs audit events through zap.
type ZapSink = audit.ZapSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink returns a sink logging through log under the "audit" name.
func NewZapSink(log *zap.Logger) *ZapSink {
	return audit.NewZapSink(log)
}
