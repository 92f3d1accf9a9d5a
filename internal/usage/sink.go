// Package usage records settled-charge telemetry. The billing flow only
// writes events; nothing in the service reads them back.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one record per settled reference.
type Event struct {
	ID       string
	UserID   string
	WalletID string

	ReferenceID   string
	ReferenceType string
	Model         string

	TokensInput  int64
	TokensOutput int64

	ChargedInput  int64
	ChargedOutput int64
	ChargedTotal  int64

	// Estimated marks charges settled from an estimate because actual
	// usage never arrived; EstimateReason says why.
	Estimated      bool
	EstimateReason string

	CreatedAt time.Time
}

// Sink accepts usage events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// LoggerSink emits events to the structured log. Dev and test default.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink builds a log-backed sink.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Record(_ context.Context, event Event) error {
	s.logger.Info("usage recorded",
		"reference_id", event.ReferenceID,
		"reference_type", event.ReferenceType,
		"user_id", event.UserID,
		"model", event.Model,
		"tokens_input", event.TokensInput,
		"tokens_output", event.TokensOutput,
		"charged_total", event.ChargedTotal,
		"estimated", event.Estimated)
	return nil
}

// PostgresSink appends events to billing_usage_events. Insert-only.
type PostgresSink struct {
	db *pgxpool.Pool
}

// NewPostgresSink builds a Postgres-backed sink.
func NewPostgresSink(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO billing_usage_events
			(id, user_id, wallet_id, reference_id, reference_type, model,
			tokens_input, tokens_output, charged_input, charged_output, charged_total,
			estimated, estimate_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID, event.UserID, event.WalletID,
		event.ReferenceID, event.ReferenceType, event.Model,
		event.TokensInput, event.TokensOutput,
		event.ChargedInput, event.ChargedOutput, event.ChargedTotal,
		event.Estimated, event.EstimateReason, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}
