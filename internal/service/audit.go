package service

import (
	"log/slog"

	"github.com/sentinelgate/ruleengine/internal/adapter/outbound/sqliteaudit"
	"github.com/sentinelgate/ruleengine/internal/config"
	"github.com/sentinelgate/ruleengine/internal/domain/audit"
)

// NewAuditLog builds the audit.Recorder cfg.AuditDBPath selects: a SQLite
// recorder (spec §4.K) when a path is configured, or audit.NopRecorder when
// the operator hasn't opted into the audit trail. Pass the result to
// WithAuditLog.
func NewAuditLog(cfg config.Config, logger *slog.Logger) (audit.Recorder, error) {
	if cfg.AuditDBPath == "" {
		return audit.NopRecorder{}, nil
	}
	return sqliteaudit.Open(cfg.AuditDBPath, logger)
}
