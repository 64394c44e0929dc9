// Package apipool implements APIThreadPool, the sole bridge between the
// network core and higher-level JSON-RPC handlers: a bounded work queue of
// requests serviced by N workers, and a response queue drained back to the
// caller-supplied delivery callback. Grounded on
// original_source/src/libServer/APIThreadPool.h.
package apipool

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardnode/shardnode/pkg/types"
)

// Handler processes one request synchronously and returns its response. It
// must not block indefinitely; the pool has no per-request timeout of its
// own (callers that need one should enforce it inside Handler).
type Handler func(req types.APIRequest) types.APIResponse

// DeliverFunc routes a finished response back to its connection writer
// (the "single post back to the main asio context" in the original).
type DeliverFunc func(resp types.APIResponse)

// Pool is a bounded MPMC queue of Request in front of N worker goroutines,
// and an unbounded delivery path for Response (SPEC_FULL §4.11).
type Pool struct {
	reqCh   chan types.APIRequest
	handler Handler
	deliver DeliverFunc

	maxQueueSize int32
	inFlight     int32

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}

	log *zap.SugaredLogger
}

// New starts workers goroutines pulling from a queue bounded at
// maxQueueSize in-flight requests (queued plus currently being handled).
func New(workers, maxQueueSize int, handler Handler, deliver DeliverFunc, log *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if maxQueueSize <= 0 {
		maxQueueSize = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Pool{
		reqCh:        make(chan types.APIRequest, maxQueueSize),
		handler:      handler,
		deliver:      deliver,
		maxQueueSize: int32(maxQueueSize),
		closed:       make(chan struct{}),
		log:          log.Named("apipool"),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// PushRequest enqueues req for processing. If the request has no ID, one is
// minted (the Go analogue of the original's raw counter, chosen because
// JobId only needs uniqueness, not ordering). Returns true when the pool was
// full and a synthesized 503 was delivered instead of queuing req.
func (p *Pool) PushRequest(req types.APIRequest) bool {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if atomic.AddInt32(&p.inFlight, 1) > p.maxQueueSize {
		atomic.AddInt32(&p.inFlight, -1)
		p.deliverResponse(types.APIResponse{
			ID:          req.ID,
			IsWebsocket: req.IsWebsocket,
			Code:        http.StatusServiceUnavailable,
			Body:        "service unavailable: request queue full",
		})
		return true
	}

	select {
	case p.reqCh <- req:
		return false
	case <-p.closed:
		atomic.AddInt32(&p.inFlight, -1)
		return true
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.reqCh {
		resp := p.handler(req)
		if resp.Code == 0 {
			resp.Code = types.OKResponseCode
		}
		atomic.AddInt32(&p.inFlight, -1)
		p.deliverResponse(resp)
	}
}

func (p *Pool) deliverResponse(resp types.APIResponse) {
	if p.deliver != nil {
		p.deliver(resp)
	}
}

// Close stops accepting new requests and waits for in-flight workers to
// drain their current request before returning.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		close(p.reqCh)
	})
	p.wg.Wait()
}

// InFlight reports the current count of queued-plus-processing requests.
func (p *Pool) InFlight() int {
	return int(atomic.LoadInt32(&p.inFlight))
}
