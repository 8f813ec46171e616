package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]*models.DecisionLog
	err     error
}

func (b *batchSink) CreateBatch(ctx context.Context, logs []*models.DecisionLog) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, logs)
	return b.err
}

func (b *batchSink) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch)
	}
	return n
}

func TestDecisionLogWriterFlushesOnStop(t *testing.T) {
	sink := &batchSink{}
	w := NewDecisionLogWriter(sink, 500, zaptest.NewLogger(t))

	for i := 0; i < 250; i++ {
		w.Record(models.DecisionLog{Path: "/v1/orders", Outcome: "rate_limited"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Full batches are written without waiting for the ticker
	require.Eventually(t, func() bool { return sink.count() >= 200 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 250, sink.count())

	for _, batch := range sink.batches {
		assert.LessOrEqual(t, len(batch), decisionLogBatchSize)
	}
}

func TestDecisionLogWriterDropsWhenFull(t *testing.T) {
	sink := &batchSink{}
	w := NewDecisionLogWriter(sink, 2, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		w.Record(models.DecisionLog{Path: "/x"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 2, sink.count())
}

func TestDecisionLogWriterSurvivesInsertErrors(t *testing.T) {
	sink := &batchSink{err: errors.New("db down")}
	w := NewDecisionLogWriter(sink, 10, zaptest.NewLogger(t))
	w.flushInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Record(models.DecisionLog{Path: "/a"})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	w.Record(models.DecisionLog{Path: "/b"})
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
