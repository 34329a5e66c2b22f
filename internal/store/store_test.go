package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "sessions.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecordAndGet(t *testing.T) {
	st := openStore(t)
	s := &Session{
		ID:            uuid.NewString(),
		StartedAt:     time.Now().UTC().Truncate(time.Millisecond),
		Backend:       "sim",
		TXFreq:        3_410_000_000,
		RXSR:          40_000_000,
		TXVGA1:        -4,
		TXCode:        -5,
		TXCompletions: 3,
		RXSamples:     256_000,
		Error:         "TX failed",
	}
	if err := st.Record(s); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := st.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TXFreq != s.TXFreq || got.TXVGA1 != -4 || got.TXCode != -5 || got.RXSamples != 256_000 || got.OK() {
		t.Fatalf("Get = %+v", got)
	}
	if !got.StartedAt.Equal(s.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, s.StartedAt)
	}
}

func TestGetMissing(t *testing.T) {
	st := openStore(t)
	if _, err := st.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := st.Record(&Session{}); err == nil {
		t.Fatalf("session without id accepted")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	st := openStore(t)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s := &Session{ID: uuid.NewString(), StartedAt: base.Add(time.Duration(i) * time.Minute), Backend: "sim"}
		if err := st.Record(s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := st.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d sessions", len(got))
	}
	if !got[0].StartedAt.After(got[1].StartedAt) {
		t.Fatalf("sessions not newest first: %v, %v", got[0].StartedAt, got[1].StartedAt)
	}
}
