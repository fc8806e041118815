package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
)

// PendingRequest lives in a topic queue until it is answered.
type PendingRequest struct {
	ID     uint64
	Topic  string
	Method string
	Params json.RawMessage

	// client is the transport the request arrived on; the answer goes back on it.
	client  transport.Client
	limited bool
}

// worker answers one topic's requests strictly in arrival order.
type worker struct {
	b     *Bridge
	topic string

	mu       sync.Mutex
	queue    []PendingRequest
	stopping bool
	wake     chan struct{}
}

func newWorker(b *Bridge, topic string) *worker {
	return &worker{b: b, topic: topic, wake: make(chan struct{}, 1)}
}

func (w *worker) enqueue(r PendingRequest) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		w.b.respondAsync(r.client, r.Topic, transport.ErrorResponse(r.ID, transport.CodeSessionNotFound, "Session not found"))
		return
	}
	w.queue = append(w.queue, r)
	w.mu.Unlock()
	w.signal()
}

// stop lets the worker answer what is queued and exit.
func (w *worker) stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.signal()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) loop() {
	defer w.b.wg.Done()

	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			stopping := w.stopping
			w.mu.Unlock()
			if stopping {
				return
			}
			<-w.wake
			continue
		}
		r := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.b.respond(r.client, r.Topic, w.answer(r))
	}
}

// answer produces exactly one response for r, whatever happens while serving it.
func (w *worker) answer(r PendingRequest) (resp transport.Response) {
	start := time.Now()
	result := "ok"
	defer func() {
		if p := recover(); p != nil {
			log.Error("bridge: request handler panicked", "topic", r.Topic, "id", r.ID, "method", r.Method, "panic", p)
			resp = transport.ErrorResponse(r.ID, transport.CodeInternal, fmt.Sprintf("internal error handling %s", r.Method))
			result = "panic"
		}
		w.b.metrics.Request(r.Method, result, time.Since(start))
		w.b.publish(Event{Kind: EventRequestAnswered, Topic: r.Topic, Method: r.Method, Err: responseErr(resp)})
	}()

	w.b.mu.Lock()
	state := w.b.topics[r.Topic]
	stale := w.b.client != r.client
	if state == TopicApproved && !stale {
		w.b.topics[r.Topic] = TopicActive
	}
	w.b.mu.Unlock()

	if stale {
		// nobody is listening on that client any more; do not prompt the wallet
		result = "transport_lost"
		return transport.ErrorResponse(r.ID, transport.CodeInternal, "Transport reconnected")
	}
	if state != TopicApproved && state != TopicActive {
		result = "unknown_topic"
		return transport.ErrorResponse(r.ID, transport.CodeSessionNotFound, "Session not found")
	}
	if r.limited {
		result = "limited"
		return transport.ErrorResponse(r.ID, transport.CodeLimitExceeded, "Too many requests")
	}

	ctx, cancel := context.WithTimeout(w.b.ctx, w.b.cfg.RequestTimeout)
	defer cancel()

	log.Info("bridge: forwarding request", "topic", r.Topic, "id", r.ID, "method", r.Method)
	out, err := w.b.wallet.Send(ctx, r.Method, r.Params)
	if err != nil {
		result = "error"
		log.Warn("bridge: wallet request failed", "topic", r.Topic, "id", r.ID, "method", r.Method, "error", err)
		w.b.notifier.Notify(notice.LevelError, fmt.Sprintf("Request %s failed: %v", r.Method, err))
		return walletErrorResponse(r.ID, err)
	}
	return transport.ResultResponse(r.ID, out)
}

func responseErr(resp transport.Response) error {
	if resp.Error == nil {
		return nil
	}
	return resp.Error
}
