package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for audit recording.
var (
	auditRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_audit_records_total",
		Help: "Total number of audit records written by action and outcome",
	}, []string{"action", "outcome"})

	auditSinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_audit_sink_errors_total",
		Help: "Total number of audit sink write failures",
	}, []string{"sink"})
)

// Record is a single audit trail entry describing a mutation attempt.
type Record struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Success      bool           `json:"success"`
	ErrorCode    string         `json:"error_code,omitempty"`
}

// Sink persists audit records.
type Sink interface {
	// Write persists a single record. The record's metadata has already
	// been masked by the recorder.
	Write(ctx context.Context, record Record) error

	// Name identifies the sink in logs and metrics.
	Name() string
}

// Recorder masks and fans audit records out to its sinks. Sink failures are
// logged and counted but never returned, because a lost audit entry must not
// fail the mutation it describes.
type Recorder struct {
	sinks  []Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder writing to the given sinks.
func NewRecorder(logger *zerolog.Logger, sinks ...Sink) *Recorder {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Recorder{
		sinks:  sinks,
		logger: l.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// Record fills in the record's identity and timestamp, masks its metadata,
// and writes it to every sink.
func (r *Recorder) Record(ctx context.Context, record Record) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = r.now().UTC()
	}
	record.Metadata = MaskMetadata(record.Metadata)

	outcome := "success"
	if !record.Success {
		outcome = "failure"
	}
	auditRecordsTotal.WithLabelValues(record.Action, outcome).Inc()

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, record); err != nil {
			auditSinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			r.logger.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("audit_id", record.ID).
				Str("action", record.Action).
				Msg("Failed to write audit record")
		}
	}
}
