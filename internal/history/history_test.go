package history

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := newTestLog(t)

	l.Record(KindLogin, "a@x.com", "project proj-1", nil)
	l.Record(KindRefresh, "a@x.com", "", errors.New("invalid_grant"))

	events, err := l.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	// Newest first.
	if events[0].Kind != KindRefresh {
		t.Errorf("first event = %s, want refresh", events[0].Kind)
	}
	if events[0].Error != "invalid_grant" {
		t.Errorf("error = %q", events[0].Error)
	}
	if events[1].Email != "a@x.com" || events[1].Detail != "project proj-1" {
		t.Errorf("login event = %+v", events[1])
	}
}

func TestRecent_Limit(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		l.Record(KindLogout, "", "", nil)
	}
	events, err := l.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("events = %d, want limit 3", len(events))
	}
}

func TestNilLog(t *testing.T) {
	var l *Log
	l.Record(KindLogin, "a@x.com", "", nil)
	events, err := l.Recent(10)
	if err != nil || events != nil {
		t.Errorf("nil log = %v, %v, want nil, nil", events, err)
	}
}
