// Package audit records authorization decisions.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/repository"
)

var (
	_ repository.AuditSink = (*PostgresSink)(nil)
	_ repository.AuditSink = (*LogSink)(nil)
	_ repository.AuditSink = MultiSink(nil)
)

// Recorder stamps records with a snowflake ID and timestamp before handing
// them to the sink. Sink failures are logged and never change a decision.
type Recorder struct {
	sink   repository.AuditSink
	node   *snowflake.Node
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(sink repository.AuditSink, node *snowflake.Node, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.L()
	}
	return &Recorder{sink: sink, node: node, logger: logger.Named("audit"), now: time.Now}
}

// Record writes one audit entry.
func (r *Recorder) Record(ctx context.Context, record domain.AuditRecord) {
	if r == nil || r.sink == nil {
		return
	}
	if record.ID == 0 && r.node != nil {
		record.ID = r.node.Generate().Int64()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = r.now().UTC()
	}
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	if err := r.sink.LogAdminAction(ctx, record); err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", record.Action),
			zap.String("user_id", record.UserID),
			zap.Error(err),
		)
	}
}

// PostgresSink appends records to the audit_logs table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) LogAdminAction(ctx context.Context, record domain.AuditRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, guild_id, action, resource, result, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		record.ID, record.UserID, record.GuildID, record.Action, record.Resource,
		string(record.Result), string(metadata), record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// LogSink emits records as structured log lines.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.L()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) LogAdminAction(_ context.Context, record domain.AuditRecord) error {
	fields := []zap.Field{
		zap.Int64("audit_id", record.ID),
		zap.String("user_id", record.UserID),
		zap.String("action", record.Action),
		zap.String("resource", record.Resource),
		zap.String("result", string(record.Result)),
		zap.Any("metadata", record.Metadata),
		zap.Time("timestamp", record.Timestamp),
	}
	if record.GuildID != nil {
		fields = append(fields, zap.String("guild_id", *record.GuildID))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []repository.AuditSink

func (m MultiSink) LogAdminAction(ctx context.Context, record domain.AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.LogAdminAction(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
