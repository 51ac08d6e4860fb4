package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"eumbeacon/internal/beacon"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ajax(session, url string) *beacon.AjaxRequest {
	return &beacon.AjaxRequest{Base: beacon.Base{SessionID: session}, URL: url, Method: "GET", Status: 200}
}

func TestStore_AppendAndGetAll(t *testing.T) {
	s := testStore(t)

	b := beacon.Of(ajax("s1", "/a"), &beacon.UserSession{Base: beacon.Base{SessionID: "s1"}, Browser: "firefox"})
	if err := s.Append("http:10.0.0.1:5000", "", b); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	sessions, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	r := sessions[0]
	if r.SessionID != "s1" {
		t.Errorf("SessionID: got %s, want s1", r.SessionID)
	}
	if r.BeaconCount != 1 {
		t.Errorf("BeaconCount: got %d, want 1", r.BeaconCount)
	}
	if r.RecordCount != 2 {
		t.Errorf("RecordCount: got %d, want 2", r.RecordCount)
	}
	if r.Kinds[beacon.KindAjax] != 1 || r.Kinds[beacon.KindUserSession] != 1 {
		t.Errorf("Kinds: got %v", r.Kinds)
	}
	if !r.Active {
		t.Error("expected session to be active")
	}
}

func TestStore_AppendIncrementsCounts(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Append("udp:x", "", beacon.Of(ajax("s1", "/a"))); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	r, err := s.Get("s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if r.BeaconCount != 5 || r.RecordCount != 5 {
		t.Errorf("counts: got beacons=%d records=%d, want 5/5", r.BeaconCount, r.RecordCount)
	}
}

func TestStore_EmptyBeaconIsNoop(t *testing.T) {
	s := testStore(t)

	if err := s.Append("http:x", "agent-1", beacon.New()); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	sessions, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestStore_GroupsBySession(t *testing.T) {
	s := testStore(t)

	b := beacon.Of(
		ajax("s1", "/a"),
		ajax("s2", "/b"),
		&beacon.HostMetrics{Hostname: "web-1"},
		ajax("s1", "/c"),
	)
	if err := s.Append("udp:10.0.0.9:5678", "agent-1", b); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	sessions, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	host, err := s.Get("agent:agent-1")
	if err != nil {
		t.Fatalf("get agent session: %v", err)
	}
	if host.Kinds[beacon.KindHostMetrics] != 1 {
		t.Errorf("agent session kinds: got %v", host.Kinds)
	}

	records, err := s.Records("s1")
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if records.Len() != 2 {
		t.Fatalf("expected 2 records for s1, got %d", records.Len())
	}
	if got := records.Data()[1].(*beacon.AjaxRequest).URL; got != "/c" {
		t.Errorf("record order: got %s, want /c", got)
	}
}

func TestStore_UnknownSession(t *testing.T) {
	s := testStore(t)

	if err := s.Append("http:x", "", beacon.Of(&beacon.AjaxRequest{URL: "/orphan"})); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := s.Get(UnknownSession); err != nil {
		t.Errorf("expected orphan record under %q: %v", UnknownSession, err)
	}
}

func TestStore_TypedNilRecordRejected(t *testing.T) {
	s := testStore(t)

	b := beacon.Of(ajax("s1", "/a"))
	b.Data()[0] = (*beacon.AjaxRequest)(nil)

	if err := s.Append("http:x", "", b); err == nil {
		t.Fatal("expected error storing a nil record")
	}
	if _, err := s.Get(UnknownSession); err == nil {
		t.Error("failed append must not create a session")
	}
}

func TestStore_RecordsNotFound(t *testing.T) {
	s := testStore(t)

	if _, err := s.Records("nope"); err == nil {
		t.Error("expected error for unknown session")
	}
	if _, err := s.Get("nope"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestStore_Expiry(t *testing.T) {
	s := testStore(t)

	s.Append("udp:x", "", beacon.Of(ajax("s1", "/a")))
	s.Append("udp:x", "", beacon.Of(ajax("s2", "/a")))

	// Threshold 0 expires everything seen before now.
	if n := s.expireStaleSessions(0); n != 2 {
		t.Errorf("expired: got %d, want 2", n)
	}

	active, err := s.CountActive()
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 0 {
		t.Errorf("expected 0 active sessions, got %d", active)
	}

	// A new beacon revives the session.
	s.Append("udp:x", "", beacon.Of(ajax("s1", "/b")))
	r, _ := s.Get("s1")
	if !r.Active || r.BeaconCount != 2 {
		t.Errorf("resumed session: active=%v beacons=%d", r.Active, r.BeaconCount)
	}
}

func TestStore_ExpiryKeepsFresh(t *testing.T) {
	s := testStore(t)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Append("udp:x", "", beacon.Of(ajax("old", "/a")))
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	s.Append("udp:x", "", beacon.Of(ajax("new", "/a")))

	if n := s.expireStaleSessions(5 * time.Minute); n != 1 {
		t.Fatalf("expired: got %d, want 1", n)
	}

	active, err := s.GetActive()
	if err != nil {
		t.Fatalf("getactive failed: %v", err)
	}
	if len(active) != 1 || active[0].SessionID != "new" {
		t.Errorf("active sessions: got %+v", active)
	}
}

func TestStore_RunExpiryReports(t *testing.T) {
	s := testStore(t)
	s.Append("udp:x", "", beacon.Of(ajax("s1", "/a")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan int, 4)
	s.RunExpiry(ctx, 10*time.Millisecond, time.Hour, func(active int) {
		select {
		case reports <- active:
		default:
		}
	})

	select {
	case n := <-reports:
		if n != 1 {
			t.Errorf("reported active: got %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expiry loop never reported")
	}
}
