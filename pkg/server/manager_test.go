package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/molbridge/molbridge/pkg/sim"
)

func newIdleSession(t *testing.T, id string) *Session {
	t.Helper()
	client := sim.NewStatic(nil)
	client.SetFrame(waterFrame())
	s, err := NewSession(id, newFakeConn(), client, testSessionConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionManager_RegisterAndRemove(t *testing.T) {
	sm := NewSessionManager(0, nil)
	var created, closed []string
	sm.SetOnSessionCreate(func(s *Session) { created = append(created, s.ID()) })
	sm.SetOnSessionClose(func(s *Session) { closed = append(closed, s.ID()) })

	for i := 0; i < 3; i++ {
		if err := sm.Register(newIdleSession(t, fmt.Sprintf("s%d", i))); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if sm.Count() != 3 || sm.Get("s1") == nil {
		t.Fatalf("Count = %d", sm.Count())
	}

	sm.Remove("s1")
	sm.Remove("s1")
	sm.Remove("unknown")

	stats := sm.Stats()
	if stats.Active != 2 || stats.TotalCreated != 3 || stats.TotalClosed != 1 || stats.Peak != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(created) != 3 || len(closed) != 1 || closed[0] != "s1" {
		t.Fatalf("callbacks: created %v, closed %v", created, closed)
	}

	seen := 0
	sm.ForEach(func(*Session) bool { seen++; return false })
	if seen != 1 {
		t.Fatalf("ForEach visited %d after stop", seen)
	}
}

func TestSessionManager_MaxSessions(t *testing.T) {
	sm := NewSessionManager(2, nil)
	_ = sm.Register(newIdleSession(t, "a"))
	_ = sm.Register(newIdleSession(t, "b"))

	if err := sm.Register(newIdleSession(t, "c")); !errors.Is(err, ErrMaxSessionsReached) {
		t.Fatalf("Register over limit = %v", err)
	}
	sm.Remove("a")
	if err := sm.Register(newIdleSession(t, "c")); err != nil {
		t.Fatalf("Register after removal = %v", err)
	}
	if got := sm.Stats().TotalRejected; got != 1 {
		t.Fatalf("TotalRejected = %d", got)
	}
}

func TestSessionManager_ShutdownStopsSessions(t *testing.T) {
	sm := NewSessionManager(0, nil)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s := newIdleSession(t, fmt.Sprintf("run%d", i))
		if err := sm.Register(s); err != nil {
			t.Fatal(err)
		}
		go func() { _ = s.Run(context.Background()) }()
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sm.ShutdownWithContext(ctx); err != nil {
		t.Fatalf("ShutdownWithContext: %v", err)
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s still running after shutdown", s.ID())
		}
	}

	if err := sm.Register(newIdleSession(t, "late")); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Register after shutdown = %v", err)
	}
}
