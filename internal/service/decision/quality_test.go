package decision

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQualityPoolEvaluatesSubmittedTasks(t *testing.T) {
	pool := NewQualityPool(zaptest.NewLogger(t), newTestMetrics(t), 1, 8)
	pool.Start(context.Background())
	defer pool.Stop()

	accepted := pool.Submit(context.Background(), QualityTask{
		SessionID: uuid.New(),
		Stage:     "differential",
		Method:    MethodAI,
		Payload: []Diagnosis{
			{Code: "I10", Probability: 0.8, Rationale: "elevated blood pressure"},
		},
	})
	require.True(t, accepted)

	select {
	case verdict := <-pool.Verdicts():
		assert.Empty(t, verdict.Failed)
		assert.Contains(t, verdict.Passed, "rationale_present")
		assert.Contains(t, verdict.Passed, "probabilities_within_bounds")
	case <-time.After(time.Second):
		t.Fatal("no verdict within a second")
	}
}

func TestQualityPoolFlagsFailedCriteria(t *testing.T) {
	pool := NewQualityPool(zaptest.NewLogger(t), newTestMetrics(t), 1, 8)
	pool.Start(context.Background())
	defer pool.Stop()

	pool.Submit(context.Background(), QualityTask{
		SessionID: uuid.New(),
		Stage:     "differential",
		Method:    MethodAI,
		Payload: []Diagnosis{
			{Code: "I10", Probability: 1.7},
		},
	})

	select {
	case verdict := <-pool.Verdicts():
		assert.Contains(t, verdict.Failed, "probabilities_within_bounds")
		assert.Contains(t, verdict.Failed, "rationale_present")
	case <-time.After(time.Second):
		t.Fatal("no verdict within a second")
	}

	_, _, failed := pool.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestQualityPoolSubmitNeverBlocks(t *testing.T) {
	// Workers are never started, so the queue of one fills immediately.
	pool := NewQualityPool(zaptest.NewLogger(t), newTestMetrics(t), 1, 1)

	task := QualityTask{SessionID: uuid.New(), Stage: "treatment", Method: MethodAI}
	assert.True(t, pool.Submit(context.Background(), task))

	done := make(chan bool, 1)
	go func() { done <- pool.Submit(context.Background(), task) }()

	select {
	case accepted := <-done:
		assert.False(t, accepted, "a full queue must reject, not block")
	case <-time.After(time.Second):
		t.Fatal("submit blocked on a full queue")
	}

	_, dropped, _ := pool.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestQualityPoolSubmitAfterStopIsDropped(t *testing.T) {
	pool := NewQualityPool(zaptest.NewLogger(t), newTestMetrics(t), 1, 4)
	pool.Start(context.Background())
	pool.Stop()

	accepted := pool.Submit(context.Background(), QualityTask{
		SessionID: uuid.New(),
		Stage:     "differential",
		Method:    MethodAI,
	})

	assert.False(t, accepted, "a stopped pool must reject, not panic")
	_, dropped, _ := pool.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestQualityPoolStopDrainsInFlightTasks(t *testing.T) {
	pool := NewQualityPool(zaptest.NewLogger(t), newTestMetrics(t), 2, 16)
	pool.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, pool.Submit(context.Background(), QualityTask{
			SessionID: uuid.New(),
			Stage:     "differential",
			Method:    MethodAI,
			Payload:   []Diagnosis{{Code: "I10", Probability: 0.5, Rationale: "r"}},
		}))
	}
	pool.Stop()

	processed, _, _ := pool.Stats()
	assert.Equal(t, int64(5), processed, "stop must wait for queued tasks")

	count := 0
	for range pool.Verdicts() {
		count++
	}
	assert.Equal(t, 5, count, "verdict channel must be closed after stop")
}
