package audit

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-entity-engine/entity"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultChangesLimit = 100
	MaxChangesLimit     = 1000
)

// ErrUnavailable is returned, joined with the store error, when the change
// log cannot be written or read. Callers treat it as non-fatal.
var ErrUnavailable = goerrors.New("change log unavailable", goerrors.CategoryExternal).
	WithTextCode("AUDIT_UNAVAILABLE")

// Store persists change records.
type Store interface {
	Append(ctx context.Context, records []ChangeRecord) error
	// ListByEntity returns the history of one row, newest first.
	ListByEntity(ctx context.Context, entityName, entityID string) ([]ChangeRecord, error)
	// ListRecent returns the newest records, optionally restricted to entities.
	ListRecent(ctx context.Context, limit int, entities []string) ([]ChangeRecord, error)
}

type Option func(*Log)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used for records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Log is the change audit log.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewLog(store Store, opts ...Option) *Log {
	l := &Log{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Report appends records and returns how many were written. Records missing
// entity, field or id are skipped. Over-length values are dropped from the
// record. A store failure returns 0 and an error matching ErrUnavailable.
func (l *Log) Report(ctx context.Context, records []ChangeRecord) (int, error) {
	accepted := make([]ChangeRecord, 0, len(records))
	for _, r := range records {
		if !r.complete() {
			l.logger.DebugContext(ctx, "skipping incomplete change record",
				slog.String("entity", r.Entity), slog.String("field", r.Field), slog.String("id", r.EntityID))
			continue
		}
		r.OldValue = dropOverLength(r.OldValue)
		r.NewValue = dropOverLength(r.NewValue)
		if r.UpdatedOn.IsZero() {
			r.UpdatedOn = l.now()
		}
		r.UpdatedOn = r.UpdatedOn.UTC()
		accepted = append(accepted, r)
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	if err := l.store.Append(ctx, accepted); err != nil {
		l.logger.WarnContext(ctx, "change log append failed",
			slog.Int("records", len(accepted)), slog.String("error", err.Error()))
		return 0, goerrors.Join(ErrUnavailable, err)
	}
	return len(accepted), nil
}

// EntityChanges returns the history of one entity row, newest first.
func (l *Log) EntityChanges(ctx context.Context, name entity.Name, id any) ([]ChangeRecord, error) {
	records, err := l.store.ListByEntity(ctx, name.String(), entity.FormatID(id))
	if err != nil {
		return nil, goerrors.Join(ErrUnavailable, err)
	}
	normalize(records)
	sortNewestFirst(records)
	return records, nil
}

// Changes returns the newest records across entity types. maxRows outside
// (0, MaxChangesLimit] is clamped. When owned is given only those entity
// types are returned.
func (l *Log) Changes(ctx context.Context, maxRows int, owned ...entity.Name) ([]ChangeRecord, error) {
	switch {
	case maxRows <= 0:
		maxRows = DefaultChangesLimit
	case maxRows > MaxChangesLimit:
		maxRows = MaxChangesLimit
	}

	var entities []string
	for _, name := range owned {
		entities = append(entities, name.String())
	}

	records, err := l.store.ListRecent(ctx, maxRows, entities)
	if err != nil {
		return nil, goerrors.Join(ErrUnavailable, err)
	}
	normalize(records)
	sortNewestFirst(records)
	if len(records) > maxRows {
		records = records[:maxRows]
	}
	return records, nil
}

func normalize(records []ChangeRecord) {
	for i := range records {
		records[i].UpdatedOn = records[i].UpdatedOn.UTC()
	}
}

func dropOverLength(v *string) *string {
	if v == nil || len(*v) <= MaxValueLength {
		return v
	}
	if utf8.RuneCountInString(*v) <= MaxValueLength {
		return v
	}
	return nil
}

func sortNewestFirst(records []ChangeRecord) {
	slices.SortStableFunc(records, func(a, b ChangeRecord) int {
		if c := b.UpdatedOn.Compare(a.UpdatedOn); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
