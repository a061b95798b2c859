// Package journal persists trade and account updates to SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Overmuse/alpaca/internal/model"
	"github.com/Overmuse/alpaca/internal/stream"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS order_events (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id     TEXT NOT NULL,
	event        TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	status       TEXT NOT NULL,
	event_time   TEXT,
	price        TEXT,
	qty          INTEGER,
	position_qty INTEGER,
	order_json   BLOB NOT NULL,
	recorded_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id, seq);

CREATE TABLE IF NOT EXISTS account_updates (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id        TEXT NOT NULL,
	status            TEXT NOT NULL,
	currency          TEXT NOT NULL,
	cash              TEXT NOT NULL,
	cash_withdrawable TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	deleted_at        TEXT,
	recorded_at       TEXT NOT NULL
);
`

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("journal closed")

// OrderEvent is one recorded trade update.
type OrderEvent struct {
	Seq        int64
	OrderID    uuid.UUID
	Event      stream.EventType
	Symbol     string
	Status     model.OrderStatus
	Timestamp  *time.Time
	Execution  *stream.Execution
	Order      model.Order
	RecordedAt time.Time
}

// Journal is a SQLite-backed log of stream messages.
type Journal struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
	logger zerolog.Logger
}

// Open opens or creates the database at path and ensures the schema exists.
// ":memory:" gives a private in-memory journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{
		db:     db,
		now:    time.Now,
		logger: log.With().Str("component", "journal").Str("path", path).Logger(),
	}, nil
}

// Close closes the database. Calls after the first return nil.
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	return j.db.Close()
}

// Record stores trade and account updates. Other messages are ignored.
func (j *Journal) Record(ctx context.Context, msg stream.Message) error {
	if j.closed.Load() {
		return ErrClosed
	}
	switch m := msg.(type) {
	case *stream.TradeUpdate:
		return j.recordTrade(ctx, m)
	case *stream.AccountUpdate:
		return j.recordAccount(ctx, m)
	default:
		return nil
	}
}

func (j *Journal) recordTrade(ctx context.Context, u *stream.TradeUpdate) error {
	order, err := json.Marshal(u.Order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", u.Order.ID, err)
	}

	var (
		eventTime        sql.NullString
		price            sql.NullString
		qty, positionQty sql.NullInt64
	)
	if ts := eventTimestamp(u.Event); ts != nil {
		eventTime = sql.NullString{String: formatTime(*ts), Valid: true}
	}
	if exec := eventExecution(u.Event); exec != nil {
		price = sql.NullString{String: exec.Price.String(), Valid: true}
		qty = sql.NullInt64{Int64: exec.Qty, Valid: true}
		positionQty = sql.NullInt64{Int64: exec.PositionQty, Valid: true}
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO order_events
			(order_id, event, symbol, status, event_time, price, qty, position_qty, order_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Order.ID.String(), string(u.Event.Type()), u.Order.Symbol, string(u.Order.Status),
		eventTime, price, qty, positionQty, order, formatTime(j.now()),
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	j.logger.Debug().
		Str("order", u.Order.ID.String()).
		Str("event", string(u.Event.Type())).
		Msg("recorded trade update")
	return nil
}

func (j *Journal) recordAccount(ctx context.Context, u *stream.AccountUpdate) error {
	var deletedAt sql.NullString
	if u.DeletedAt != nil {
		deletedAt = sql.NullString{String: formatTime(*u.DeletedAt), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO account_updates
			(account_id, status, currency, cash, cash_withdrawable, created_at, updated_at, deleted_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Status, u.Currency, u.Cash.String(), u.CashWithdrawable.String(),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt), deletedAt, formatTime(j.now()),
	)
	if err != nil {
		return fmt.Errorf("insert account update: %w", err)
	}
	return nil
}

// OrderEvents returns the recorded events of one order, oldest first.
func (j *Journal) OrderEvents(ctx context.Context, orderID uuid.UUID) ([]OrderEvent, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, order_id, event, symbol, status, event_time, price, qty, position_qty, order_json, recorded_at
		FROM order_events
		WHERE order_id = ?
		ORDER BY seq ASC`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var events []OrderEvent
	for rows.Next() {
		var (
			e                           OrderEvent
			id, event, status, recorded string
			eventTime, price            sql.NullString
			qty, positionQty            sql.NullInt64
			order                       []byte
		)
		if err := rows.Scan(&e.Seq, &id, &event, &e.Symbol, &status, &eventTime, &price, &qty, &positionQty, &order, &recorded); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}

		if e.OrderID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("order event %d: %w", e.Seq, err)
		}
		e.Event = stream.EventType(event)
		e.Status = model.OrderStatus(status)
		if eventTime.Valid {
			ts, err := parseTime(eventTime.String)
			if err != nil {
				return nil, fmt.Errorf("order event %d: %w", e.Seq, err)
			}
			e.Timestamp = &ts
		}
		if price.Valid {
			p, err := decimal.NewFromString(price.String)
			if err != nil {
				return nil, fmt.Errorf("order event %d price: %w", e.Seq, err)
			}
			e.Execution = &stream.Execution{Price: p, Qty: qty.Int64, PositionQty: positionQty.Int64}
			if e.Timestamp != nil {
				e.Execution.Timestamp = *e.Timestamp
			}
		}
		if err := json.Unmarshal(order, &e.Order); err != nil {
			return nil, fmt.Errorf("order event %d: %w", e.Seq, err)
		}
		if e.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, fmt.Errorf("order event %d: %w", e.Seq, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AccountUpdates returns up to limit recorded account updates, newest first.
// A limit of zero or less returns all of them.
func (j *Journal) AccountUpdates(ctx context.Context, limit int) ([]*stream.AccountUpdate, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT account_id, status, currency, cash, cash_withdrawable, created_at, updated_at, deleted_at
		FROM account_updates
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query account updates: %w", err)
	}
	defer rows.Close()

	var updates []*stream.AccountUpdate
	for rows.Next() {
		var (
			u                  stream.AccountUpdate
			cash, withdrawable string
			created, updated   string
			deleted            sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Status, &u.Currency, &cash, &withdrawable, &created, &updated, &deleted); err != nil {
			return nil, fmt.Errorf("scan account update: %w", err)
		}
		if u.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("account update cash: %w", err)
		}
		if u.CashWithdrawable, err = decimal.NewFromString(withdrawable); err != nil {
			return nil, fmt.Errorf("account update cash_withdrawable: %w", err)
		}
		if u.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if u.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if deleted.Valid {
			ts, err := parseTime(deleted.String)
			if err != nil {
				return nil, err
			}
			u.DeletedAt = &ts
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}

func eventTimestamp(e stream.Event) *time.Time {
	switch ev := e.(type) {
	case stream.CanceledEvent:
		return &ev.Timestamp
	case stream.ExpiredEvent:
		return &ev.Timestamp
	case stream.RejectedEvent:
		return &ev.Timestamp
	case stream.ReplacedEvent:
		return &ev.Timestamp
	case stream.FillEvent:
		return &ev.Execution.Timestamp
	case stream.PartialFillEvent:
		return &ev.Execution.Timestamp
	default:
		return nil
	}
}

func eventExecution(e stream.Event) *stream.Execution {
	switch ev := e.(type) {
	case stream.FillEvent:
		return &ev.Execution
	case stream.PartialFillEvent:
		return &ev.Execution
	default:
		return nil
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse journal time %q: %w", s, err)
	}
	return t, nil
}
