package errsink

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/metrics"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

const insertError = `
	INSERT INTO catalog.errors (url, status_code, error_message)
	VALUES ($1, $2, $3)
`

// Reporter records ingestion and persistence failures.
// Implementations never return errors and never panic.
type Reporter interface {
	Report(ctx context.Context, url string, status int, message string)
	ReportError(ctx context.Context, err error)
}

// DBExecutor is the subset of pgxpool.Pool needed to append error rows.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink appends ErrorLog rows to catalog.errors. When the insert itself fails the
// record goes to the zap logger instead.
type PGSink struct {
	db      DBExecutor
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a sink. db may be nil, in which case records are only logged.
func New(db DBExecutor, logger *zap.Logger) *PGSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGSink{db: db, logger: logger, timeout: 3 * time.Second}
}

// Report appends one error record. An empty message is stored as NULL.
func (s *PGSink) Report(ctx context.Context, url string, status int, message string) {
	entry := model.ErrorLog{URL: url, StatusCode: status}
	if message != "" {
		entry.ErrorMessage = &message
	}
	s.write(ctx, entry)
}

// ReportError maps a typed failure onto an error record.
func (s *PGSink) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	component, reason := classify(err)
	metrics.IncError(component, reason)
	s.write(ctx, Describe(err))
}

func (s *PGSink) write(ctx context.Context, entry model.ErrorLog) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncError("errsink", "panic")
			s.logger.Error("errsink.report_panic",
				zap.String("url", entry.URL),
				zap.Any("panic", r))
		}
	}()

	s.logger.Warn("errsink.recorded",
		zap.String("url", entry.URL),
		zap.Int("status", entry.StatusCode),
		zap.Stringp("message", entry.ErrorMessage))

	if s.db == nil {
		return
	}

	// The failing operation's context may already be canceled; the audit row must still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if _, err := s.db.Exec(writeCtx, insertError, entry.URL, entry.StatusCode, entry.ErrorMessage); err != nil {
		metrics.IncError("errsink", "insert_failed")
		s.logger.Error("errsink.insert_failed",
			zap.String("url", entry.URL),
			zap.Int("status", entry.StatusCode),
			zap.Stringp("message", entry.ErrorMessage),
			zap.Error(err))
	}
}

// Describe maps err to the row stored in catalog.errors. ID and Timestamp are left
// for the database to assign.
func Describe(err error) model.ErrorLog {
	var (
		netErr   *model.NetworkError
		parseErr *model.ParseError
		persErr  *model.PersistenceError
		entry    model.ErrorLog
	)
	switch {
	case errors.As(err, &netErr):
		entry = model.ErrorLog{URL: netErr.URL, StatusCode: netErr.Status}
		entry.ErrorMessage = message(netErr.Error())
	case errors.As(err, &parseErr):
		entry = model.ErrorLog{URL: parseErr.URL, StatusCode: parseErr.Status}
		entry.ErrorMessage = message(parseErr.Detail)
	case errors.As(err, &persErr):
		entry = model.ErrorLog{URL: persErr.Op, StatusCode: 500}
		if persErr.Err != nil {
			entry.ErrorMessage = message(persErr.Err.Error())
		}
	default:
		entry = model.ErrorLog{URL: "unknown", StatusCode: 500}
		entry.ErrorMessage = message(err.Error())
	}
	return entry
}

// classify returns the metric labels for err.
func classify(err error) (component, reason string) {
	var (
		netErr   *model.NetworkError
		parseErr *model.ParseError
		persErr  *model.PersistenceError
	)
	switch {
	case errors.As(err, &netErr):
		return "catalog", "network"
	case errors.As(err, &parseErr):
		return "catalog", "parse"
	case errors.As(err, &persErr):
		return "store", "persistence"
	default:
		return "unknown", "unclassified"
	}
}

func message(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Nop discards every report. Useful where no sink is wired.
type Nop struct{}

func (Nop) Report(context.Context, string, int, string) {}
func (Nop) ReportError(context.Context, error)          {}
