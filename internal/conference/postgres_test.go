package conference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return assign(r.data[r.idx-1], dest)
}

// assign copies row values into scan destinations.
func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sessionRow(id string, events []Event) []any {
	ev, _ := json.Marshal(events)
	return []any{id, "en", "es", "CA1", "active", ev, fixedTime, fixedTime}
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	var got string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if got != Schema {
		t.Error("Migrate did not execute Schema")
	}

	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	if err := NewPostgresStore(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "conference: migrate") {
		t.Errorf("err = %v", err)
	}
}

func TestPostgresStore_Put(t *testing.T) {
	t.Parallel()
	var args []any
	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, a ...any) pgx.Row {
		args = a
		return &mockRow{scanFunc: func(dest ...any) error {
			return assign([]any{fixedTime, fixedTime}, dest)
		}}
	}}

	s := &Session{ConferenceID: "room-1", SourceLanguage: "en", TargetLanguage: "es", Status: StatusInitiated}
	if err := NewPostgresStore(db).Put(context.Background(), s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.CreatedAt.Equal(fixedTime) {
		t.Errorf("CreatedAt = %v", s.CreatedAt)
	}
	if args[0] != "room-1" || args[4] != "initiated" {
		t.Errorf("args = %v", args)
	}
	if string(args[5].([]byte)) != "[]" {
		t.Errorf("nil events should marshal to [], got %s", args[5])
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	t.Parallel()
	_, err := NewPostgresStore(&mockDB{}).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()
	events := []Event{{Name: EventBotCreated, Detail: "CA1", At: fixedTime}}
	db := &mockDB{queryRowFunc: func(_ context.Context, _ string, a ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			return assign(sessionRow(a[0].(string), events), dest)
		}}
	}}

	s, err := NewPostgresStore(db).Get(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.ConferenceID != "room-1" || s.BotCallID != "CA1" || s.Status != StatusActive {
		t.Errorf("session = %+v", s)
	}
	if len(s.Events) != 1 || s.Events[0].Detail != "CA1" {
		t.Errorf("events = %+v", s.Events)
	}
}

func TestPostgresStore_AppendEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tag     string
		wantErr error
	}{
		{"updated", "UPDATE 1", nil},
		{"missing", "UPDATE 0", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var payload []byte
			db := &mockDB{execFunc: func(_ context.Context, _ string, a ...any) (pgconn.CommandTag, error) {
				payload = a[1].([]byte)
				return pgconn.NewCommandTag(tt.tag), nil
			}}
			err := NewPostgresStore(db).AppendEvent(context.Background(), "room-1", Event{Name: EventBotStatus, Detail: "ringing"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(string(payload), `"bot_status"`) {
				t.Errorf("payload = %s", payload)
			}
		})
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{data: [][]any{sessionRow("a", nil), sessionRow("b", []Event{})}}, nil
	}}
	list, err := NewPostgresStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ConferenceID != "a" || list[1].ConferenceID != "b" {
		t.Errorf("list = %+v", list)
	}
}

func TestPostgresStore_ListRowsErr(t *testing.T) {
	t.Parallel()
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{err: errors.New("connection reset")}, nil
	}}
	if _, err := NewPostgresStore(db).List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
