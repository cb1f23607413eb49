package conference_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callbridge/internal/conference"
)

func newSession(id string) *conference.Session {
	return &conference.Session{
		ConferenceID:   id,
		SourceLanguage: "en",
		TargetLanguage: "es",
		Status:         conference.StatusInitiated,
	}
}

func TestSession_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*conference.Session)
		wantErr []string
	}{
		{name: "valid", mutate: func(*conference.Session) {}},
		{
			name:    "missing id",
			mutate:  func(s *conference.Session) { s.ConferenceID = "" },
			wantErr: []string{"conference id is required"},
		},
		{
			name: "bad languages and status",
			mutate: func(s *conference.Session) {
				s.SourceLanguage = "xx"
				s.TargetLanguage = ""
				s.Status = "ringing"
			},
			wantErr: []string{"source language", "target language", "invalid status"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSession("room-1")
			tt.mutate(s)
			err := s.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func TestMemStore_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := conference.NewMemStore()

	s := newSession("room-1")
	if err := st.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if s.CreatedAt.IsZero() {
		t.Error("Put should stamp CreatedAt")
	}

	if err := st.AppendEvent(ctx, "room-1", conference.Event{Name: conference.EventBotCreated, Detail: "CA1"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := st.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Events) != 1 || got.Events[0].Name != conference.EventBotCreated || got.Events[0].At.IsZero() {
		t.Errorf("events = %+v", got.Events)
	}

	// Returned sessions are copies.
	got.Events[0].Name = "mutated"
	again, _ := st.Get(ctx, "room-1")
	if again.Events[0].Name != conference.EventBotCreated {
		t.Error("Get returned a shared pointer")
	}

	if err := st.Delete(ctx, "room-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, "room-1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := st.Get(ctx, "room-1"); !errors.Is(err, conference.ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_PutKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := conference.NewMemStore()

	first := newSession("room-1")
	_ = st.Put(ctx, first)
	time.Sleep(time.Millisecond)

	update := newSession("room-1")
	update.Status = conference.StatusActive
	update.BotCallID = "CA1"
	if err := st.Put(ctx, update); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !update.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, update.CreatedAt)
	}
}

func TestMemStore_AppendEventMissing(t *testing.T) {
	t.Parallel()
	st := conference.NewMemStore()
	err := st.AppendEvent(context.Background(), "nope", conference.Event{Name: "x"})
	if !errors.Is(err, conference.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_ListOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := conference.NewMemStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		s := newSession(id)
		s.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_ = st.Put(ctx, s)
	}

	list, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ConferenceID)
	}
	if strings.Join(ids, ",") != "c,a,b" {
		t.Errorf("order = %v, want creation order c,a,b", ids)
	}
}

func TestMemStore_PutRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newSession("")
	if err := conference.NewMemStore().Put(context.Background(), s); err == nil {
		t.Fatal("expected validation error")
	}
}
