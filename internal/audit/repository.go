package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pcd-core/internal/driver"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one journalled driver event.
type Entry struct {
	ID           string           `json:"id"`
	Type         driver.EventType `json:"type"`
	Number       int              `json:"number"`
	Name         string           `json:"name,omitempty"`
	TypeKey      string           `json:"type_key,omitempty"`
	Serial       string           `json:"serial,omitempty"`
	Capacity     uint32           `json:"capacity,omitempty"`
	PrevCapacity uint32           `json:"prev_capacity,omitempty"`
	Error        string           `json:"error,omitempty"`
	At           time.Time        `json:"at"`
}

// EntryFromEvent converts a driver event into a journal entry without an ID.
func EntryFromEvent(e driver.Event) Entry {
	return Entry{
		Type:         e.Type,
		Number:       e.Number,
		Name:         e.Name,
		TypeKey:      e.TypeKey,
		Serial:       e.Serial,
		Capacity:     e.Capacity,
		PrevCapacity: e.PrevCapacity,
		Error:        e.Error,
		At:           e.At,
	}
}

// Filter controls which entries List returns.
type Filter struct {
	Type   driver.EventType // optional: attached, detached, attach_failed, resized
	Number *int             // optional: device number
	Name   string           // optional: device node name
	Limit  int              // default 50, max 200
	Offset int              // pagination offset
}

// ListResult contains one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries journal entries.
type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps the journal in the device_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. ID and At are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.Type == "" {
		return ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = "evt-" + uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (id, type, number, name, type_key, serial, capacity, prev_capacity, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type), entry.Number, entry.Name, entry.TypeKey, entry.Serial,
		entry.Capacity, entry.PrevCapacity, entry.Error,
		entry.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Number != nil {
		conditions = append(conditions, "number = ?")
		args = append(args, *filter.Number)
	}
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM device_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting device events: %w", err)
	}

	query := "SELECT id, type, number, name, type_key, serial, capacity, prev_capacity, error, at FROM device_events " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var typ, at string
		if err := rows.Scan(&e.ID, &typ, &e.Number, &e.Name, &e.TypeKey, &e.Serial,
			&e.Capacity, &e.PrevCapacity, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		e.Type = driver.EventType(typ)
		t, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parsing device event timestamp %q: %w", at, err)
		}
		e.At = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
