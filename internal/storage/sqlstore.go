package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "callrelay/pkg/logx"
)

// sqlStore implements Store on database/sql. Queries are written with '?'
// placeholders and rebound for drivers that use numbered ones.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	driver   string
	numbered bool
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	return rebind(query)
}

// rebind turns '?' placeholders into $1..$n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context, schema string) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s migrate: %w", s.driver, err)
	}
	return nil
}

func (s *sqlStore) Ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) PendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, call_id, type, destination, created_at, error_message, ring_duration, duration, details
		 FROM notifications WHERE status = 'pending' ORDER BY created_at, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n                  Notification
			createdAt          int64
			errMsg, details    sql.NullString
			ringDur, totalDurn sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.CallID, &n.Type, &n.Destination, &createdAt, &errMsg, &ringDur, &totalDurn, &details); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = time.UnixMilli(createdAt)
		n.ErrorMessage = errMsg.String
		n.RingDuration = intPtr(ringDur)
		n.Duration = intPtr(totalDurn)
		n.Details = decodeMap(details.String)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqlStore) Acknowledge(ctx context.Context, id string, outcome Outcome, detail string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE notifications SET status = ?, processed_at = ?, ack_error = ? WHERE id = ?`),
		string(outcome), time.Now().UnixMilli(), nullStr(detail), id)
	if err != nil {
		return fmt.Errorf("acknowledge %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("acknowledge %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) Enqueue(ctx context.Context, n Notification) (string, error) {
	if strings.TrimSpace(n.CallID) == "" || strings.TrimSpace(n.Type) == "" {
		return "", errors.New("enqueue: call id and type are required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO notifications(id, call_id, type, destination, created_at, status, error_message, ring_duration, duration, details)
		 VALUES(?,?,?,?,?,'pending',?,?,?,?)`),
		n.ID, n.CallID, n.Type, n.Destination, n.CreatedAt.UnixMilli(),
		nullStr(n.ErrorMessage), nullInt(n.RingDuration), nullInt(n.Duration), nullStr(encodeMap(n.Details)))
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return n.ID, nil
}

func (s *sqlStore) Call(ctx context.Context, callID string) (Call, bool, error) {
	var (
		c          Call
		createdAt  int64
		dur        sql.NullInt64
		bctx, meta sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, status, duration, phone_number, outcome, error_message, business_context, metadata, answered_by, created_at
		 FROM calls WHERE id = ?`), callID).
		Scan(&c.ID, &c.Status, &dur, &c.PhoneNumber, &c.Outcome, &c.ErrorMessage, &bctx, &meta, &c.AnsweredBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, fmt.Errorf("call %s: %w", callID, err)
	}
	c.Duration = intPtr(dur)
	c.BusinessContext = decodeMap(bctx.String)
	c.Metadata = decodeMap(meta.String)
	c.CreatedAt = time.UnixMilli(createdAt)
	return c, true, nil
}

func (s *sqlStore) UpsertCall(ctx context.Context, c Call) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("upsert call: id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO calls(id, status, duration, phone_number, outcome, error_message, business_context, metadata, answered_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   duration = excluded.duration,
		   phone_number = excluded.phone_number,
		   outcome = excluded.outcome,
		   error_message = excluded.error_message,
		   business_context = excluded.business_context,
		   metadata = excluded.metadata,
		   answered_by = excluded.answered_by`),
		c.ID, c.Status, nullInt(c.Duration), c.PhoneNumber, c.Outcome, c.ErrorMessage,
		nullStr(encodeMap(c.BusinessContext)), nullStr(encodeMap(c.Metadata)), c.AnsweredBy, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert call %s: %w", c.ID, err)
	}
	return nil
}

func (s *sqlStore) CallStates(ctx context.Context, callID string) ([]CallState, error) {
	var out []CallState
	err := s.each(ctx, `SELECT status, at FROM call_states WHERE call_id = ? ORDER BY at`, callID, func(sc scanner) error {
		var st CallState
		var at int64
		if err := sc.Scan(&st.Status, &at); err != nil {
			return err
		}
		st.At = time.UnixMilli(at)
		out = append(out, st)
		return nil
	})
	return out, err
}

func (s *sqlStore) Transcripts(ctx context.Context, callID string) ([]Transcript, error) {
	var out []Transcript
	err := s.each(ctx, `SELECT speaker, text, at FROM transcripts WHERE call_id = ? ORDER BY at`, callID, func(sc scanner) error {
		var t Transcript
		var at int64
		if err := sc.Scan(&t.Speaker, &t.Text, &at); err != nil {
			return err
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
		return nil
	})
	return out, err
}

func (s *sqlStore) DTMFEntries(ctx context.Context, callID string) ([]DTMFEntry, error) {
	var out []DTMFEntry
	err := s.each(ctx, `SELECT digits, label, at FROM dtmf_entries WHERE call_id = ? ORDER BY at`, callID, func(sc scanner) error {
		var d DTMFEntry
		var at int64
		if err := sc.Scan(&d.Digits, &d.Label, &at); err != nil {
			return err
		}
		d.At = time.UnixMilli(at)
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *sqlStore) Inputs(ctx context.Context, callID string) ([]Input, error) {
	var out []Input
	err := s.each(ctx, `SELECT name, value, at FROM inputs WHERE call_id = ? ORDER BY at`, callID, func(sc scanner) error {
		var in Input
		var at int64
		if err := sc.Scan(&in.Name, &in.Value, &at); err != nil {
			return err
		}
		in.At = time.UnixMilli(at)
		out = append(out, in)
		return nil
	})
	return out, err
}

func (s *sqlStore) RecordMetric(ctx context.Context, name string, ok bool) error {
	v := 0
	if ok {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO service_metrics(name, ok, at) VALUES(?,?,?)`),
		name, v, time.Now().UnixMilli())
	return err
}

type scanner interface{ Scan(dest ...any) error }

func (s *sqlStore) each(ctx context.Context, query, callID string, fn func(scanner) error) error {
	rows, err := s.db.QueryContext(ctx, s.q(query), callID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
