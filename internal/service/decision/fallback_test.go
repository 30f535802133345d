package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

func newTestMetrics(t *testing.T) *metrics.Registry {
	t.Helper()
	registry, err := metrics.NewRegistry("decision-test")
	require.NoError(t, err)
	return registry
}

func TestProcessPrimarySucceeds(t *testing.T) {
	p := NewProcessor(zaptest.NewLogger(t), newTestMetrics(t), time.Second)

	result := Process(context.Background(), p, "differential",
		func(context.Context) ([]Diagnosis, error) {
			return []Diagnosis{{Code: "I10", Probability: 0.8, Rationale: "model"}}, nil
		},
		func() []Diagnosis { t.Fatal("fallback must not run"); return nil },
		validDifferential,
	)

	assert.Equal(t, MethodAI, result.Method)
	require.Len(t, result.Value, 1)
	assert.Equal(t, "I10", result.Value[0].Code)
}

func TestProcessFallsBackOnError(t *testing.T) {
	p := NewProcessor(zaptest.NewLogger(t), newTestMetrics(t), time.Second)

	result := Process(context.Background(), p, "differential",
		func(context.Context) (string, error) { return "", errors.New("model unavailable") },
		func() string { return "deterministic" },
		nil,
	)

	assert.Equal(t, MethodFallback, result.Method)
	assert.Equal(t, "deterministic", result.Value)
}

func TestProcessFallsBackOnTimeout(t *testing.T) {
	p := NewProcessor(zaptest.NewLogger(t), newTestMetrics(t), 20*time.Millisecond)

	started := time.Now()
	result := Process(context.Background(), p, "differential",
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		func() string { return "deterministic" },
		nil,
	)

	assert.Equal(t, MethodFallback, result.Method)
	assert.Equal(t, "deterministic", result.Value)
	assert.Less(t, time.Since(started), time.Second, "timeout must bound the primary path")
}

func TestProcessFallsBackOnFailedValidation(t *testing.T) {
	p := NewProcessor(zaptest.NewLogger(t), newTestMetrics(t), time.Second)

	result := Process(context.Background(), p, "differential",
		func(context.Context) ([]Diagnosis, error) {
			return []Diagnosis{{Code: "I10", Probability: 3.2}}, nil
		},
		func() []Diagnosis {
			return []Diagnosis{{Code: "Z03.89", Probability: 0.35, Rationale: "fallback"}}
		},
		validDifferential,
	)

	assert.Equal(t, MethodFallback, result.Method)
	assert.Equal(t, "Z03.89", result.Value[0].Code)
}

func TestCombineMethods(t *testing.T) {
	tests := []struct {
		name    string
		methods []Method
		want    Method
	}{
		{"all ai", []Method{MethodAI, MethodAI}, MethodAI},
		{"all fallback", []Method{MethodFallback, MethodFallback}, MethodFallback},
		{"mixed", []Method{MethodAI, MethodFallback}, MethodHybrid},
		{"hybrid dominates", []Method{MethodAI, MethodHybrid}, MethodHybrid},
		{"empty defaults to ai", nil, MethodAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, combineMethods(tt.methods...))
		})
	}
}
