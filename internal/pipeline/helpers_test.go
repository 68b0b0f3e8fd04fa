package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-unifiedpush/internal/broker/membroker"
	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestBroker keeps redelivery fast so convergence tests finish quickly.
func newTestBroker() *membroker.Broker {
	return membroker.New(membroker.Config{
		MaxDeliveries:   50,
		RedeliveryDelay: 5 * time.Millisecond,
		DeadLetterQueue: "dead-letter",
	}, newTestLogger())
}

// scriptedSender records every batch it is handed and reports the scripted
// outcome.
type scriptedSender struct {
	mu      sync.Mutex
	batches [][]string

	// failReason, when set, fails every batch; failOnce fails only the first.
	failReason string
	failOnce   bool
	failed     bool
}

func (s *scriptedSender) Send(_ context.Context, _ upmodel.Variant, tokens []string, _ upmodel.UnifiedPushMessage, _ string, cb sender.Callback) {
	s.mu.Lock()
	copied := make([]string, len(tokens))
	copy(copied, tokens)
	s.batches = append(s.batches, copied)
	fail := s.failReason != "" && (!s.failOnce || !s.failed)
	if fail {
		s.failed = true
	}
	reason := s.failReason
	s.mu.Unlock()

	if fail {
		cb.OnError(reason)
		return
	}
	cb.OnSuccess()
}

func (s *scriptedSender) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *scriptedSender) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// completionRecorder captures completion events for assertions.
type completionRecorder struct {
	mu       sync.Mutex
	variants map[string]int // "pushID/variantID" -> count
	pushes   map[string]int
}

func newCompletionRecorder() *completionRecorder {
	return &completionRecorder{
		variants: make(map[string]int),
		pushes:   make(map[string]int),
	}
}

func (r *completionRecorder) OnVariantCompleted(pushID, variantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[pushID+"/"+variantID]++
}

func (r *completionRecorder) OnPushMessageCompleted(pushID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes[pushID]++
}

func (r *completionRecorder) pushCompletions(pushID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes[pushID]
}

func (r *completionRecorder) variantCompletions(pushID, variantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.variants[pushID+"/"+variantID]
}
