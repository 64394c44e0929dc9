package dscomposition

import (
	"math/big"
	"testing"

	"github.com/shardnode/shardnode/pkg/types"
)

func member(key string, port uint16) types.CommitteeMember {
	return types.CommitteeMember{
		PubKey: types.PubKey(key),
		Peer:   types.Peer{IP: big.NewInt(0x7f000001), Port: port},
	}
}

func keyAt(members []types.CommitteeMember, i int) string {
	return string(members[i].PubKey)
}

func TestRotateWithoutRemovalsKeepsSizeAndOrdersWinnersBySelfFront(t *testing.T) {
	pre := make([]types.CommitteeMember, 20)
	for i := 0; i < 20; i++ {
		pre[i] = member(keyFor(i), uint16(9000+i))
	}

	c := New(pre, nil, nil, nil, nil, nil)

	winners := map[types.PubKey]types.Peer{
		types.PubKey(keyFor(20)): {IP: big.NewInt(0x7f000001), Port: 9020},
		types.PubKey(keyFor(21)): {IP: big.NewInt(0x7f000001), Port: 9021},
		types.PubKey(keyFor(22)): {IP: big.NewInt(0x7f000001), Port: 9022},
	}
	block := types.DSBlock{BlockNum: 1, PoWWinners: winners}

	info, err := c.Rotate(block, Options{SelfPubKey: types.PubKey(keyFor(22))})
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	_ = info

	post := c.Snapshot()
	if len(post) != 20 {
		t.Fatalf("expected committee size 20, got %d", len(post))
	}
	if keyAt(post, 0) != keyFor(22) {
		t.Fatalf("expected self key %s at front, got %s", keyFor(22), keyAt(post, 0))
	}
	if post[0].Peer.IP.Sign() != 0 {
		t.Fatalf("expected self peer to be zeroed, got %v", post[0].Peer)
	}
	if keyAt(post, 1) != keyFor(21) || keyAt(post, 2) != keyFor(20) {
		t.Fatalf("expected k21,k20 after self, got %s,%s", keyAt(post, 1), keyAt(post, 2))
	}
	if keyAt(post, 3) != keyFor(0) {
		t.Fatalf("expected k0 next, got %s", keyAt(post, 3))
	}
	for _, evicted := range []string{keyFor(17), keyFor(18), keyFor(19)} {
		for _, m := range post {
			if string(m.PubKey) == evicted {
				t.Fatalf("expected %s to be evicted", evicted)
			}
		}
	}
}

func TestRotateWithRemovalsShufflesLosersToBackBeforeEviction(t *testing.T) {
	pre := make([]types.CommitteeMember, 20)
	for i := 0; i < 20; i++ {
		pre[i] = member(keyFor(i), uint16(9000+i))
	}

	c := New(pre, nil, nil, nil, nil, nil)

	winners := map[types.PubKey]types.Peer{}
	for i := 20; i <= 24; i++ {
		winners[types.PubKey(keyFor(i))] = types.Peer{IP: big.NewInt(0x7f000001), Port: uint16(9000 + i)}
	}
	block := types.DSBlock{
		BlockNum:      2,
		PoWWinners:    winners,
		RemovePubKeys: []types.PubKey{types.PubKey(keyFor(0)), types.PubKey(keyFor(1))},
	}

	if _, err := c.Rotate(block, Options{SelfPubKey: types.PubKey("nobody")}); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	post := c.Snapshot()
	if len(post) != 20 {
		t.Fatalf("expected committee size 20, got %d", len(post))
	}
	for _, removed := range []string{keyFor(0), keyFor(1)} {
		for _, m := range post {
			if string(m.PubKey) == removed {
				t.Fatalf("expected %s to have been evicted as part of the tail pop", removed)
			}
		}
	}
	// Five winners occupy the front.
	front := map[string]bool{}
	for i := 0; i < 5; i++ {
		front[keyAt(post, i)] = true
	}
	for i := 20; i <= 24; i++ {
		if !front[keyFor(i)] {
			t.Fatalf("expected winner %s in front five, got front=%v", keyFor(i), front)
		}
	}
	if keyAt(post, 5) != keyFor(2) {
		t.Fatalf("expected k2 to follow the winners, got %s", keyAt(post, 5))
	}
}

func keyFor(i int) string {
	return string(rune('a')) + itoaHelper(i)
}

func itoaHelper(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
