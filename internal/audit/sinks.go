package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"backoffice/internal/models"
)

// GormSink writes events to the audit_logs table of the shared schema.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink { return &GormSink{db: db} }

func (s *GormSink) Name() string { return "audit_logs" }

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *GormSink) Write(ctx context.Context, e Event) error {
	meta := map[string]any{}
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.RequestID != "" {
		meta["request_id"] = e.RequestID
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	row := models.AuditLog{
		TenantID:  optional(e.TenantID),
		UserID:    optional(e.UserID),
		Level:     e.Level,
		Action:    e.Action,
		Metadata:  models.JSONB(raw),
		CreatedAt: e.At,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type ListFilter struct {
	TenantID string
	UserID   string
	Action   string
	Limit    int
	Offset   int
}

// List returns stored events, newest first.
func (s *GormSink) List(ctx context.Context, f ListFilter) ([]models.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Offset(f.Offset)
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	var out []models.AuditLog
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return out, nil
}

// LogSink emits events as structured log entries.
type LogSink struct {
	lg *zap.SugaredLogger
}

func NewLogSink(lg *zap.SugaredLogger) *LogSink {
	return &LogSink{lg: lg.Named("audit")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e Event) error {
	fields := []any{
		"type", "audit",
		"action", e.Action,
		"at", e.At,
	}
	if e.Level != "" {
		fields = append(fields, "level", e.Level)
	}
	if e.TenantID != "" {
		fields = append(fields, "tenant_id", e.TenantID)
	}
	if e.UserID != "" {
		fields = append(fields, "user_id", e.UserID)
	}
	if e.RequestID != "" {
		fields = append(fields, "request_id", e.RequestID)
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, "fields", e.Metadata)
	}
	s.lg.Infow("audit event", fields...)
	return nil
}
