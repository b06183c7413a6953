package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/schedule"
)

// Postgres backs the engines with pgx. All conditional updates are single
// atomic statements; no transaction spans a gateway call.
type Postgres struct{ Pool *pgxpool.Pool }

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{Pool: pool} }

const scheduledCols = `id, event_id, content, message_type, filter, recipient_ids, send_at,
	scheduled_tz, scheduled_local, idempotency_key, status, recipient_count,
	success_count, failure_count, modification_count, version, created_at, modified_at`

// ---- roster ----

func (s *Postgres) GuestsByEvent(ctx context.Context, eventID string) ([]core.Guest, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, event_id, phone, tags, declined, opted_out_of_sms, removed
		FROM guests WHERE event_id=$1 ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Guest
	for rows.Next() {
		var g core.Guest
		if err := rows.Scan(&g.ID, &g.EventID, &g.Phone, &g.Tags, &g.Declined, &g.OptedOutOfSMS, &g.Removed); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertGuest exists for roster seeding; guest CRUD proper lives outside
// this service.
func (s *Postgres) UpsertGuest(ctx context.Context, g core.Guest) error {
	if g.Tags == nil {
		g.Tags = []string{} // nil would write SQL NULL into a NOT NULL column
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO guests (id, event_id, phone, tags, declined, opted_out_of_sms, removed)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			phone=EXCLUDED.phone, tags=EXCLUDED.tags, declined=EXCLUDED.declined,
			opted_out_of_sms=EXCLUDED.opted_out_of_sms, removed=EXCLUDED.removed`,
		g.ID, g.EventID, g.Phone, g.Tags, g.Declined, g.OptedOutOfSMS, g.Removed)
	return err
}

// ---- scheduled messages ----

func (s *Postgres) CreateScheduled(ctx context.Context, sm *core.ScheduledMessage) error {
	filter, err := json.Marshal(sm.Filter)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO scheduled_messages (`+scheduledCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		sm.ID, sm.EventID, sm.Content, sm.MessageType, filter, sm.RecipientIDs, sm.SendAt,
		sm.ScheduledTZ, sm.ScheduledLocal, sm.IdempotencyKey, sm.Status, sm.RecipientCount,
		sm.SuccessCount, sm.FailureCount, sm.ModificationCount, sm.Version, sm.CreatedAt, sm.ModifiedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", schedule.ErrDuplicateKey, sm.IdempotencyKey)
	}
	return err
}

func (s *Postgres) GetScheduled(ctx context.Context, id string) (*core.ScheduledMessage, error) {
	return s.scanScheduled(s.Pool.QueryRow(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_messages WHERE id=$1`, id))
}

func (s *Postgres) FindByIdempotencyKey(ctx context.Context, eventID, key string) (*core.ScheduledMessage, error) {
	return s.scanScheduled(s.Pool.QueryRow(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_messages WHERE event_id=$1 AND idempotency_key=$2`,
		eventID, key))
}

func (s *Postgres) ListScheduledByEvent(ctx context.Context, eventID string) ([]core.ScheduledMessage, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_messages WHERE event_id=$1 ORDER BY send_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.ScheduledMessage
	for rows.Next() {
		sm, err := s.scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sm)
	}
	return out, rows.Err()
}

// UpdateScheduled applies a host-side edit only if the row is still at the
// expected version and still scheduled. Returning false means the caller
// lost to a concurrent edit or a dispatcher claim.
func (s *Postgres) UpdateScheduled(ctx context.Context, sm *core.ScheduledMessage, expectVersion int64) (bool, error) {
	filter, err := json.Marshal(sm.Filter)
	if err != nil {
		return false, err
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE scheduled_messages SET
			content=$3, message_type=$4, filter=$5, recipient_ids=$6, send_at=$7,
			scheduled_tz=$8, scheduled_local=$9, status=$10, recipient_count=$11,
			modification_count=$12, version=$13, modified_at=$14
		WHERE id=$1 AND version=$2 AND status='scheduled'`,
		sm.ID, expectVersion, sm.Content, sm.MessageType, filter, sm.RecipientIDs, sm.SendAt,
		sm.ScheduledTZ, sm.ScheduledLocal, sm.Status, sm.RecipientCount,
		sm.ModificationCount, sm.Version, sm.ModifiedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) DueScheduled(ctx context.Context, now time.Time, limit int) ([]core.ScheduledMessage, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+scheduledCols+` FROM scheduled_messages
		WHERE status='scheduled' AND send_at <= $1
		ORDER BY send_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.ScheduledMessage
	for rows.Next() {
		sm, err := s.scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sm)
	}
	return out, rows.Err()
}

// ClaimScheduled is the dispatch-race serialization point: a compare-and-swap
// on (id, version) moving scheduled -> sending. Exactly one caller wins.
func (s *Postgres) ClaimScheduled(ctx context.Context, id string, expectVersion int64) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status='sending', version=version+1, modified_at=now()
		WHERE id=$1 AND version=$2 AND status='scheduled'`, id, expectVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) FinishScheduled(ctx context.Context, id, status string, success, failure int) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE scheduled_messages
		SET status=$2, success_count=$3, failure_count=$4, version=version+1, modified_at=now()
		WHERE id=$1 AND status='sending'`, id, status, success, failure)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scheduled message %s not in sending", core.ErrNotFound, id)
	}
	return nil
}

// ---- messages & deliveries ----

func (s *Postgres) CreateMessage(ctx context.Context, m *core.Message) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO messages (id, event_id, content, message_type, scheduled_message_id,
			delivered_count, failed_count, created_at, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.EventID, m.Content, m.MessageType, m.ScheduledMessageID,
		m.DeliveredCount, m.FailedCount, m.CreatedAt, m.SentAt)
	return err
}

func (s *Postgres) SetMessageCounts(ctx context.Context, id string, delivered, failed int) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE messages SET delivered_count=$2, failed_count=$3 WHERE id=$1`, id, delivered, failed)
	return err
}

func (s *Postgres) ListMessagesByEvent(ctx context.Context, eventID string) ([]core.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, event_id, content, message_type, scheduled_message_id,
			delivered_count, failed_count, created_at, sent_at
		FROM messages WHERE event_id=$1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Message
	for rows.Next() {
		var m core.Message
		if err := rows.Scan(&m.ID, &m.EventID, &m.Content, &m.MessageType, &m.ScheduledMessageID,
			&m.DeliveredCount, &m.FailedCount, &m.CreatedAt, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateDeliveries(ctx context.Context, ds []core.MessageDelivery) error {
	if len(ds) == 0 {
		return nil
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, d := range ds {
		_, err := tx.Exec(ctx, `
			INSERT INTO message_deliveries (id, message_id, guest_id, phone_snapshot, channel, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			d.ID, d.MessageID, d.GuestID, d.PhoneSnapshot, d.Channel, d.Status, d.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) MarkDelivery(ctx context.Context, id, status string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE message_deliveries SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (s *Postgres) ListDeliveriesByMessage(ctx context.Context, messageID string) ([]core.MessageDelivery, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, message_id, guest_id, phone_snapshot, channel, status, created_at
		FROM message_deliveries WHERE message_id=$1 ORDER BY guest_id, channel`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.MessageDelivery
	for rows.Next() {
		var d core.MessageDelivery
		if err := rows.Scan(&d.ID, &d.MessageID, &d.GuestID, &d.PhoneSnapshot, &d.Channel, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- scanning ----

type rowScanner interface{ Scan(dest ...any) error }

func (s *Postgres) scanScheduled(row rowScanner) (*core.ScheduledMessage, error) {
	var sm core.ScheduledMessage
	var filter []byte
	err := row.Scan(&sm.ID, &sm.EventID, &sm.Content, &sm.MessageType, &filter, &sm.RecipientIDs,
		&sm.SendAt, &sm.ScheduledTZ, &sm.ScheduledLocal, &sm.IdempotencyKey, &sm.Status,
		&sm.RecipientCount, &sm.SuccessCount, &sm.FailureCount, &sm.ModificationCount,
		&sm.Version, &sm.CreatedAt, &sm.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filter, &sm.Filter); err != nil {
		return nil, err
	}
	return &sm, nil
}
