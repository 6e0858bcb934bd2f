package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes audit records as structured log events.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to the given logger. When logger is nil
// the global logger is used.
func NewLogSink(logger *zerolog.Logger) *LogSink {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &LogSink{logger: l.With().Str("component", "audit").Logger()}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, record Record) error {
	event := s.logger.Info().
		Str("audit_id", record.ID).
		Str("action", record.Action).
		Str("resource_type", record.ResourceType).
		Time("timestamp", record.Timestamp).
		Bool("success", record.Success)
	if record.ResourceID != "" {
		event = event.Str("resource_id", record.ResourceID)
	}
	if record.ActorID != "" {
		event = event.Str("actor_id", record.ActorID)
	}
	if record.IPAddress != "" {
		event = event.Str("ip_address", record.IPAddress)
	}
	if record.UserAgent != "" {
		event = event.Str("user_agent", record.UserAgent)
	}
	if record.ErrorCode != "" {
		event = event.Str("error_code", record.ErrorCode)
	}
	if len(record.Metadata) > 0 {
		event = event.Interface("metadata", record.Metadata)
	}
	event.Msg("Audit record")
	return nil
}

// MemorySink keeps records in memory. Intended for tests and local tooling.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Name implements Sink.
func (s *MemorySink) Name() string { return "memory" }

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of all records written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
