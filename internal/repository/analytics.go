package repository

import (
	"context"
	"encoding/json"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
)

const analyticsTable = "analytics_events"

// EventDocumentProcessed is recorded once per successfully processed document.
const EventDocumentProcessed = "document_processed"

type AnalyticsRepository interface {
	Record(ctx context.Context, eventType string, data map[string]any, userID *string) (*entity.AnalyticsEvent, error)
	CountByType(ctx context.Context) (map[string]int, error)
}

type analyticsRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewAnalyticsRepository(db *DB, logger *zap.Logger) AnalyticsRepository {
	return &analyticsRepository{db: db, logger: logger}
}

func (r *analyticsRepository) Record(ctx context.Context, eventType string, data map[string]any, userID *string) (*entity.AnalyticsEvent, error) {
	ev := &entity.AnalyticsEvent{
		ID:        uuid.New(),
		EventType: eventType,
		UserID:    userID,
		CreatedAt: r.db.timestamp(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, eris.Wrap(err, "marshal analytics event")
		}
		ev.EventData = b
	}
	_, err := r.db.exec(ctx, r.db.builder().Insert(analyticsTable).
		Columns("id", "event_type", "event_data", "user_id", "created_at").
		Values(ev.ID.String(), ev.EventType, nullJSON(ev.EventData), nullString(ev.UserID), ev.CreatedAt))
	if err != nil {
		r.logger.Error("failed to record analytics event", zap.String("event_type", eventType), zap.Error(err))
		return nil, eris.Wrap(err, "record analytics event")
	}
	return ev, nil
}

func (r *analyticsRepository) CountByType(ctx context.Context) (map[string]int, error) {
	b := r.db.builder()
	rows, err := r.db.query(ctx, b.Select("event_type", entsql.Count("*")).
		From(b.Table(analyticsTable)).
		GroupBy("event_type"))
	if err != nil {
		return nil, eris.Wrap(err, "count analytics events")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, eris.Wrap(err, "scan analytics count")
		}
		counts[t] = n
	}
	return counts, eris.Wrap(rows.Err(), "count analytics events")
}
