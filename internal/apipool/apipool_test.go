package apipool

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shardnode/shardnode/pkg/types"
)

func TestPushRequestDispatchesToHandler(t *testing.T) {
	var responses []types.APIResponse
	var mu sync.Mutex
	done := make(chan struct{})

	pool := New(2, 8, func(req types.APIRequest) types.APIResponse {
		return types.APIResponse{ID: req.ID, Code: types.OKResponseCode, Body: "handled:" + req.Body}
	}, func(resp types.APIResponse) {
		mu.Lock()
		responses = append(responses, resp)
		mu.Unlock()
		done <- struct{}{}
	}, nil)
	defer pool.Close()

	overflowed := pool.PushRequest(types.APIRequest{Body: "ping"})
	if overflowed {
		t.Fatal("expected request to be accepted, not overflowed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(responses) != 1 || responses[0].Body != "handled:ping" {
		t.Fatalf("unexpected responses: %+v", responses)
	}
}

func TestPushRequestOverflowSynthesizes503(t *testing.T) {
	block := make(chan struct{})
	var mu sync.Mutex
	var responses []types.APIResponse
	allDelivered := make(chan struct{}, 4)

	pool := New(1, 2, func(req types.APIRequest) types.APIResponse {
		<-block // hold the single worker busy so the queue fills up
		return types.APIResponse{ID: req.ID, Code: types.OKResponseCode}
	}, func(resp types.APIResponse) {
		mu.Lock()
		responses = append(responses, resp)
		mu.Unlock()
		allDelivered <- struct{}{}
	}, nil)

	// First request occupies the sole worker; second fills the one queued
	// slot left by maxQueueSize=2; third must overflow.
	pool.PushRequest(types.APIRequest{ID: "a", Body: "1"})
	pool.PushRequest(types.APIRequest{ID: "b", Body: "2"})
	overflowed := pool.PushRequest(types.APIRequest{ID: "c", Body: "3"})
	if !overflowed {
		t.Fatal("expected third request to overflow the bounded queue")
	}

	select {
	case <-allDelivered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for overflow response")
	}

	mu.Lock()
	found503 := false
	for _, r := range responses {
		if r.ID == "c" && r.Code == http.StatusServiceUnavailable {
			found503 = true
		}
	}
	mu.Unlock()
	if !found503 {
		t.Fatalf("expected a synthesized 503 for request c, got %+v", responses)
	}

	close(block)
	pool.Close()
}

func TestPushRequestMintsIDWhenMissing(t *testing.T) {
	gotID := make(chan string, 1)
	pool := New(1, 4, func(req types.APIRequest) types.APIResponse {
		gotID <- req.ID
		return types.APIResponse{ID: req.ID, Code: types.OKResponseCode}
	}, nil, nil)
	defer pool.Close()

	pool.PushRequest(types.APIRequest{Body: "no id supplied"})

	select {
	case id := <-gotID:
		if id == "" {
			t.Fatal("expected a minted request ID")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler invocation")
	}
}
