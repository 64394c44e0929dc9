package reputation

import (
	"testing"

	"github.com/shardnode/shardnode/internal/blacklist"
)

func TestPunishThenAwardRoundTrip(t *testing.T) {
	bl := blacklist.New(nil)
	m := New(bl, nil)
	ip := "203.0.113.5"

	for i := 0; i < 200; i++ {
		m.PunishNode(ip)
	}
	if !m.IsNodeBanned(ip) {
		t.Fatalf("expected ip to be banned after repeated punishment")
	}
	if !bl.Exist(ipKey(ip), true) {
		t.Fatalf("expected ip to appear in blacklist once banned")
	}

	for i := 0; i < 400; i++ {
		m.AwardNode(ip)
	}
	if m.IsNodeBanned(ip) {
		t.Fatalf("expected ip to be unbanned after repeated award")
	}
	if bl.Exist(ipKey(ip), true) {
		t.Fatalf("expected ip to be removed from blacklist once unbanned")
	}
}

func TestSetReputationClampsUpperBound(t *testing.T) {
	m := New(nil, nil)
	m.SetReputation("198.51.100.1", UpperRepThreshold+500)
	if got := m.GetReputation("198.51.100.1"); got != UpperRepThreshold {
		t.Fatalf("expected clamp to %d, got %d", UpperRepThreshold, got)
	}
}

func TestFreshIPStartsGood(t *testing.T) {
	m := New(nil, nil)
	if got := m.GetReputation("192.0.2.9"); got != Good {
		t.Fatalf("expected fresh ip to start at Good=%d, got %d", Good, got)
	}
}
