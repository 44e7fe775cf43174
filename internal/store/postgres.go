package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"hookgate/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies .sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil { return err }
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil { return err }
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest, secret string) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	hdr, _ := json.Marshal(req.CustomHeaders)
	maxRetries := model.ClampRetries(req.MaxRetries)
	timeoutSec := model.ClampTimeout(req.TimeoutSec)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, org_id, url, secret, events, custom_headers, enabled, max_retries, timeout_sec, consecutive_failures)
		VALUES ($1,$2,$3,$4,$5,$6,true,$7,$8,0)`, id, req.OrgID, req.URL, secret, ev, hdr, maxRetries, timeoutSec)
	if err != nil { return model.Subscription{}, err }
	return model.Subscription{ID: id, OrgID: req.OrgID, URL: req.URL, Secret: secret, Events: req.Events, CustomHeaders: req.CustomHeaders, Enabled: true, MaxRetries: maxRetries, TimeoutSec: timeoutSec}, nil
}

const subCols = `id::text, org_id::text, url, events, COALESCE(custom_headers,'{}'::jsonb), enabled, max_retries, timeout_sec, consecutive_failures, last_triggered_at, last_success_at, last_failure_at`

func scanSubscription(row interface{ Scan(...any) error }) (model.Subscription, error) {
	var s model.Subscription
	var ev, hdr []byte
	if err := row.Scan(&s.ID, &s.OrgID, &s.URL, &ev, &hdr, &s.Enabled, &s.MaxRetries, &s.TimeoutSec, &s.ConsecutiveFailures, &s.LastTriggeredAt, &s.LastSuccessAt, &s.LastFailureAt); err != nil {
		return model.Subscription{}, err
	}
	_ = json.Unmarshal(ev, &s.Events)
	_ = json.Unmarshal(hdr, &s.CustomHeaders)
	return s, nil
}

func (p *Postgres) GetSubscription(ctx context.Context, orgID, id string) (model.Subscription, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subCols+` FROM subscriptions WHERE org_id=$1 AND id=$2`, orgID, id)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) { return model.Subscription{}, ErrNotFound }
	return s, err
}

func (p *Postgres) ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+subCols+` FROM subscriptions WHERE org_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, orgID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+subCols+` FROM subscriptions WHERE org_id=$1 ORDER BY id LIMIT $2`, orgID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	var out []model.Subscription
	var last string
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil { return nil, "", err }
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

func (p *Postgres) PatchSubscription(ctx context.Context, orgID, id string, patch model.SubscriptionPatch) (model.Subscription, error) {
	sets := []string{}
	args := []any{orgID, id}
	n := 3
	add := func(expr string, v any) {
		sets = append(sets, fmt.Sprintf(expr, n))
		args = append(args, v)
		n++
	}
	if patch.URL != nil { add("url=$%d", *patch.URL) }
	if len(patch.Events) > 0 {
		ev, _ := json.Marshal(patch.Events)
		add("events=$%d", ev)
	}
	if patch.CustomHeaders != nil {
		hdr, _ := json.Marshal(patch.CustomHeaders)
		add("custom_headers=$%d", hdr)
	}
	if patch.MaxRetries != nil { add("max_retries=$%d", model.ClampRetries(*patch.MaxRetries)) }
	if patch.TimeoutSec != nil { add("timeout_sec=$%d", model.ClampTimeout(*patch.TimeoutSec)) }
	if patch.Enabled != nil {
		add("enabled=$%d", *patch.Enabled)
		if *patch.Enabled {
			// re-enable resets the breaker
			sets = append(sets, "consecutive_failures=0")
		}
	}
	if len(sets) == 0 { return p.GetSubscription(ctx, orgID, id) }
	q := `UPDATE subscriptions SET ` + strings.Join(sets, ", ") + `, updated_at=now() WHERE org_id=$1 AND id=$2`
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil { return model.Subscription{}, err }
	if rn, _ := res.RowsAffected(); rn == 0 { return model.Subscription{}, ErrNotFound }
	return p.GetSubscription(ctx, orgID, id)
}

func (p *Postgres) DeleteSubscription(ctx context.Context, orgID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil { return err }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, org_id::text, url, secret, events, COALESCE(custom_headers,'{}'::jsonb), max_retries, timeout_sec
		FROM subscriptions WHERE org_id=$1 AND enabled AND events @> $2::jsonb`, orgID, fmt.Sprintf("[%q]", eventType))
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev, hdr []byte
		if err := rows.Scan(&s.ID, &s.OrgID, &s.URL, &s.Secret, &ev, &hdr, &s.MaxRetries, &s.TimeoutSec); err != nil { return nil, err }
		s.Enabled = true
		_ = json.Unmarshal(ev, &s.Events)
		_ = json.Unmarshal(hdr, &s.CustomHeaders)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Deliveries

func (p *Postgres) EnqueueDelivery(ctx context.Context, d Delivery) (string, error) {
	if d.ID == "" { d.ID = uuid.New().String() }
	dk := computeDedupKey(d.Payload)
	hdr, _ := json.Marshal(d.Headers)
	_, err := p.db.ExecContext(ctx, `INSERT INTO deliveries (id, org_id, subscription_id, event_type, url, secret, custom_headers, payload, status, attempts, max_attempts, timeout_sec, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',0,$9,$10,now(),$11)
		ON CONFLICT (subscription_id, event_type, dedup_key) DO NOTHING`,
		d.ID, d.OrgID, d.SubscriptionID, d.EventType, d.URL, nullIfEmpty(d.Secret), hdr, d.Payload, d.MaxAttempts, d.TimeoutSec, dk)
	if err != nil { return "", err }
	_, _ = p.db.ExecContext(ctx, `UPDATE subscriptions SET last_triggered_at=now() WHERE id=$1`, d.SubscriptionID)
	return d.ID, nil
}

func (p *Postgres) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, org_id::text, subscription_id::text, event_type, url, COALESCE(secret,''), COALESCE(custom_headers,'{}'::jsonb), payload, status, attempts, max_attempts, timeout_sec
		FROM deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []Delivery{}
	for rows.Next() {
		var d Delivery
		var hdr []byte
		if err := rows.Scan(&d.ID, &d.OrgID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &hdr, &d.Payload, &d.Status, &d.Attempts, &d.MaxAttempts, &d.TimeoutSec); err != nil { return nil, err }
		_ = json.Unmarshal(hdr, &d.Headers)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, outcome AttemptOutcome) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='success', attempts=attempts+1, delivered_at=now(), updated_at=now(), response_code=$2, response_body=$3, latency_ms=$4, last_error=NULL WHERE id=$1`,
			id, nullIfZero(outcome.ResponseCode), nullIfEmpty(outcome.ResponseBody), outcome.LatencyMs)
		if err != nil { return err }
		_, err = p.db.ExecContext(ctx, `UPDATE subscriptions SET consecutive_failures=0, last_success_at=now() WHERE id=(SELECT subscription_id FROM deliveries WHERE id=$1)`, id)
		return err
	}
	if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
	_, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='retry', attempts=attempts+1, next_attempt_at=$2, updated_at=now(), last_error=$3, response_code=$4, response_body=$5, latency_ms=$6 WHERE id=$1`,
		id, *nextAttemptAt, nullIfEmpty(outcome.Error), nullIfZero(outcome.ResponseCode), nullIfEmpty(outcome.ResponseBody), outcome.LatencyMs)
	if err != nil { return err }
	return p.recordSubFailure(ctx, id)
}

func (p *Postgres) FailDelivery(ctx context.Context, id string, outcome AttemptOutcome) error {
	_, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='failed', attempts=attempts+1, updated_at=now(), last_error=$2, response_code=$3, response_body=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(outcome.Error), nullIfZero(outcome.ResponseCode), nullIfEmpty(outcome.ResponseBody), outcome.LatencyMs)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO delivery_dlq (id, org_id, delivery_id, subscription_id, event_type, url, payload, attempts, last_error)
		SELECT gen_random_uuid(), org_id, id, subscription_id, event_type, url, payload, attempts, $2 FROM deliveries WHERE id=$1`, id, nullIfEmpty(outcome.Error))
	if err != nil { return err }
	return p.recordSubFailure(ctx, id)
}

func (p *Postgres) recordSubFailure(ctx context.Context, deliveryID string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE subscriptions SET consecutive_failures=consecutive_failures+1, last_failure_at=now(),
		enabled = CASE WHEN consecutive_failures+1 >= $2 THEN false ELSE enabled END
		WHERE id=(SELECT subscription_id FROM deliveries WHERE id=$1)`, deliveryID, circuitBreakThreshold)
	return err
}

func (p *Postgres) ListDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, subscription_id::text, event_type, status, attempts, response_code, response_body, latency_ms, last_error, next_attempt_at, url FROM deliveries WHERE org_id=$1`
	var rows *sql.Rows
	var err error
	if status != "" {
		q += ` AND status=$2 ORDER BY id LIMIT $3`
		rows, err = p.db.QueryContext(ctx, q, orgID, status, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		rows, err = p.db.QueryContext(ctx, q, orgID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, subID, eventType, st, url string
		var attempts int
		var code, latency sql.NullInt64
		var body, lastErr sql.NullString
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &subID, &eventType, &st, &attempts, &code, &body, &latency, &lastErr, &nextAt, &url); err != nil { return nil, "", err }
		item := map[string]any{"id": id, "subscriptionId": subID, "eventType": eventType, "status": st, "attempts": attempts, "url": url}
		if code.Valid { item["responseCode"] = int(code.Int64) }
		if body.Valid { item["responseBody"] = body.String }
		if latency.Valid { item["latencyMs"] = int(latency.Int64) }
		if lastErr.Valid { item["lastError"] = lastErr.String }
		if nextAt.Valid && st == "retry" { item["nextAttemptAt"] = nextAt.Time }
		out = append(out, item)
		last = id
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

func (p *Postgres) RetryDelivery(ctx context.Context, orgID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil { return err }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

func (p *Postgres) ListDLQ(ctx context.Context, orgID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, delivery_id::text, subscription_id::text, event_type, url, attempts, COALESCE(last_error,''), created_at FROM delivery_dlq WHERE org_id=$1`
	args := []any{orgID}
	if eventType != "" {
		q += ` AND event_type=$2`
		args = append(args, eventType)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var id, delID, subID, et, url, lastErr string
		var attempts int
		var createdAt time.Time
		if err := rows.Scan(&id, &delID, &subID, &et, &url, &attempts, &lastErr, &createdAt); err != nil { return nil, "", err }
		item := map[string]any{"id": id, "deliveryId": delID, "subscriptionId": subID, "eventType": et, "url": url, "attempts": attempts, "createdAt": createdAt}
		if lastErr != "" { item["lastError"] = lastErr }
		out = append(out, item)
	}
	return out, "", rows.Err()
}

func (p *Postgres) RequeueDLQ(ctx context.Context, orgID, id string) error {
	var deliveryID string
	err := p.db.QueryRowContext(ctx, `DELETE FROM delivery_dlq WHERE org_id=$1 AND id=$2 RETURNING delivery_id::text`, orgID, id).Scan(&deliveryID)
	if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `UPDATE deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE id=$1`, deliveryID)
	return err
}

// computeDedupKey derives an idempotency key from the payload so re-enqueues
// of the same event snapshot collapse into one row.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
func nullIfZero(n int) any { if n == 0 { return nil }; return n }
