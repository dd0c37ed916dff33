// Package audit appends run-lifecycle events to an append-only KurrentDB
// stream, one stream per run. The trail is an optional supplement to the run
// records in the relational store: it preserves per-item resolution order
// even when the process dies before finalizing.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
)

// Event types appended to run streams
const (
	EventRunStarted   = "RunStarted"
	EventItemResolved = "ItemResolved"
	EventRunFinalized = "RunFinalized"
)

// Trail is a KurrentDB-backed run event appender.
type Trail struct {
	client *esdb.Client
}

// RunEvent is the payload of every trail event.
type RunEvent struct {
	RunID     uuid.UUID `json:"run_id"`
	Kind      string    `json:"kind,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New connects to KurrentDB and verifies the connection.
func New(ctx context.Context, cfg config.AuditConfig) (*Trail, error) {
	settings, err := esdb.ParseConnectionString(connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	// Verify connectivity by touching a system stream
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	stream, err := client.ReadStream(verifyCtx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to verify connection: %w", err)
	}
	stream.Close()

	return &Trail{client: client}, nil
}

// RunStarted appends the opening event of a run stream.
func (t *Trail) RunStarted(ctx context.Context, runID uuid.UUID, kind string) error {
	return t.append(ctx, runID, EventRunStarted, RunEvent{
		RunID: runID, Kind: kind, Timestamp: time.Now(),
	})
}

// ItemResolved appends one work item's outcome.
func (t *Trail) ItemResolved(ctx context.Context, runID uuid.UUID, itemID, outcome, message string) error {
	return t.append(ctx, runID, EventItemResolved, RunEvent{
		RunID: runID, ItemID: itemID, Outcome: outcome, Message: message, Timestamp: time.Now(),
	})
}

// RunFinalized appends the terminal event of a run stream.
func (t *Trail) RunFinalized(ctx context.Context, runID uuid.UUID, status, message string) error {
	return t.append(ctx, runID, EventRunFinalized, RunEvent{
		RunID: runID, Status: status, Message: message, Timestamp: time.Now(),
	})
}

// Close closes the underlying client.
func (t *Trail) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

func (t *Trail) append(ctx context.Context, runID uuid.UUID, eventType string, event RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	_, err = t.client.AppendToStream(ctx, streamName(runID), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   eventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     uuid.New(),
	})
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	metrics.RecordAuditEvent()
	return nil
}

func streamName(runID uuid.UUID) string {
	return "claimrun-" + runID.String()
}

// connectionString builds the esdb:// connection string.
func connectionString(cfg config.AuditConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}
	var tls string
	if cfg.Insecure {
		tls = "?tls=false"
	}
	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, tls)
}
