// Package reputation implements a numeric per-IP reputation score that feeds
// the blacklist, grounded on
// original_source/src/libNetwork/ReputationManager.cpp.
package reputation

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/pkg/types"
)

const (
	// Good is the default reputation assigned to a newly seen IP.
	Good = 500
	// RepThreshold is the score at or below which a node is considered
	// banned.
	RepThreshold = 0
	// UpperRepThreshold caps how high a reputation score can rise.
	UpperRepThreshold = 1000
	// AwardForGoodNodes is both the punishment and award step size (the
	// original applies the same constant for both directions).
	AwardForGoodNodes = 10
	// BanMultiplier scales the correction subtracted from an
	// already-unbanned peer's score on every update, per the decided rule
	// in SPEC_FULL §4.10.
	BanMultiplier = 3

	// lowerClamp keeps repeated punishment from wrapping a 32-bit score;
	// the original has no symmetric lower clamp (SPEC_FULL §10).
	lowerClamp = math.MinInt32 / 2
)

// Manager tracks reputation scores per IP and mirrors bans into a Blacklist.
type Manager struct {
	mu     sync.Mutex
	scores map[string]int32

	bl  *blacklist.Blacklist
	log *zap.SugaredLogger
}

// New constructs a Manager backed by bl.
func New(bl *blacklist.Blacklist, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		scores: make(map[string]int32),
		bl:     bl,
		log:    log.Named("reputation"),
	}
}

func ipKey(ip string) types.Peer {
	return types.Peer{NodeID: ip}
}

func (m *Manager) addIfNotKnown(ip string) {
	if _, ok := m.scores[ip]; !ok {
		m.scores[ip] = Good
	}
}

// GetReputation returns ip's current score, registering it at Good if unseen.
func (m *Manager) GetReputation(ip string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addIfNotKnown(ip)
	return m.scores[ip]
}

// SetReputation clamps and stores score for ip.
func (m *Manager) SetReputation(ip string, score int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addIfNotKnown(ip)
	if score > UpperRepThreshold {
		m.log.Warnw("reputation score exceeds upper bound, clamping", "ip", ip, "score", score)
		score = UpperRepThreshold
	}
	if score < lowerClamp {
		score = lowerClamp
	}
	m.scores[ip] = score
}

// IsNodeBanned reports whether ip's score is at or below RepThreshold.
func (m *Manager) IsNodeBanned(ip string) bool {
	return m.GetReputation(ip) <= RepThreshold
}

// UpdateReputation applies delta to ip's score, then — per the decided rule
// for the original's ambiguous sign (SPEC_FULL §4.10) — additionally
// subtracts BanMultiplier*AwardForGoodNodes when the result is nonzero and
// the peer is not currently banned, preventing unbounded upward drift from
// repeated awards.
func (m *Manager) UpdateReputation(ip string, delta int32) {
	newScore := m.GetReputation(ip) + delta
	if newScore != 0 && !m.IsNodeBanned(ip) {
		newScore -= BanMultiplier * AwardForGoodNodes
	}
	m.SetReputation(ip, newScore)
}

// PunishNode lowers ip's reputation and blacklists it if it crosses the ban
// threshold.
func (m *Manager) PunishNode(ip string) {
	m.UpdateReputation(ip, -AwardForGoodNodes)
	if m.bl != nil && !m.bl.Exist(ipKey(ip), true) && m.IsNodeBanned(ip) {
		m.log.Infow("node banned", "ip", ip)
		m.bl.Add(ipKey(ip), types.Strict)
	}
}

// AwardNode raises ip's reputation and unbans it if it clears the threshold.
func (m *Manager) AwardNode(ip string) {
	m.UpdateReputation(ip, AwardForGoodNodes)
	if m.bl != nil && m.bl.Exist(ipKey(ip), true) && !m.IsNodeBanned(ip) {
		m.log.Infow("node unbanned", "ip", ip)
		m.bl.Remove(ipKey(ip))
	}
}
