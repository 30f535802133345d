package decision

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

// QualityTask is one asynchronous quality evaluation of an AI-influenced
// pipeline output.
type QualityTask struct {
	SessionID   uuid.UUID
	Stage       string
	Method      Method
	Payload     interface{}
	SubmittedAt time.Time
}

// QualityVerdict reports which criteria a task passed and failed.
type QualityVerdict struct {
	Task   QualityTask
	Passed []string
	Failed []string
}

// Criterion is one gold-standard check. A check that does not apply to the
// task's payload must return true.
type Criterion struct {
	Name  string
	Check func(QualityTask) bool
}

// DefaultCriteria is the standing checklist applied to every task.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{
			Name: "method_tagged",
			Check: func(t QualityTask) bool {
				return t.Method == MethodAI || t.Method == MethodFallback || t.Method == MethodHybrid
			},
		},
		{
			Name: "probabilities_within_bounds",
			Check: func(t QualityTask) bool {
				diagnoses, ok := t.Payload.([]Diagnosis)
				if !ok {
					return true
				}
				for _, d := range diagnoses {
					if d.Probability < 0 || d.Probability > 1 {
						return false
					}
				}
				return true
			},
		},
		{
			Name: "rationale_present",
			Check: func(t QualityTask) bool {
				diagnoses, ok := t.Payload.([]Diagnosis)
				if !ok {
					return true
				}
				for _, d := range diagnoses {
					if d.Rationale == "" {
						return false
					}
				}
				return true
			},
		},
		{
			Name: "treatment_links_diagnosis",
			Check: func(t QualityTask) bool {
				options, ok := t.Payload.([]TreatmentOption)
				if !ok {
					return true
				}
				for _, option := range options {
					if option.DiagnosisCode == "" {
						return false
					}
				}
				return true
			},
		},
	}
}

// QualityPool evaluates tasks on a fixed number of workers over a bounded
// queue. Submission never blocks the decision path: when the queue is
// full the task is counted as dropped and the caller moves on.
type QualityPool struct {
	logger   *zap.Logger
	metrics  *metrics.Registry
	criteria []Criterion

	tasks    chan QualityTask
	verdicts chan QualityVerdict
	workers  int

	mu        sync.RWMutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewQualityPool creates a pool; Start must be called before Submit.
func NewQualityPool(logger *zap.Logger, registry *metrics.Registry, workers, queueSize int, criteria ...Criterion) *QualityPool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if len(criteria) == 0 {
		criteria = DefaultCriteria()
	}
	return &QualityPool{
		logger:   logger,
		metrics:  registry,
		criteria: criteria,
		tasks:    make(chan QualityTask, queueSize),
		verdicts: make(chan QualityVerdict, queueSize),
		workers:  workers,
	}
}

// Start launches the workers. They run until Stop is called or the context
// is canceled.
func (p *QualityPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes intake and waits for in-flight tasks, then closes the
// verdict channel. Submissions arriving afterwards are counted as drops.
func (p *QualityPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.tasks)
		p.mu.Unlock()

		p.wg.Wait()
		close(p.verdicts)
	})
}

// Submit enqueues a task without blocking. It reports whether the task was
// accepted; a rejected task is counted and logged, nothing more.
func (p *QualityPool) Submit(ctx context.Context, task QualityTask) bool {
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return p.drop(ctx, task, "pool stopped")
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return p.drop(ctx, task, "queue full")
	}
}

func (p *QualityPool) drop(ctx context.Context, task QualityTask, reason string) bool {
	p.dropped.Add(1)
	p.metrics.QualityQueueDrops.Add(ctx, 1)
	p.logger.Warn("quality evaluation task dropped",
		zap.String("session_id", task.SessionID.String()),
		zap.String("stage", task.Stage),
		zap.String("reason", reason))
	return false
}

// Verdicts exposes evaluation outcomes, failed ones included, so a caller
// can watch quality drift without polling.
func (p *QualityPool) Verdicts() <-chan QualityVerdict {
	return p.verdicts
}

// Stats reports processed, dropped and failed counts since start.
func (p *QualityPool) Stats() (processed, dropped, failed int64) {
	return p.processed.Load(), p.dropped.Load(), p.failed.Load()
}

func (p *QualityPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.evaluate(task)
		}
	}
}

func (p *QualityPool) evaluate(task QualityTask) {
	verdict := QualityVerdict{Task: task}
	for _, criterion := range p.criteria {
		if criterion.Check(task) {
			verdict.Passed = append(verdict.Passed, criterion.Name)
		} else {
			verdict.Failed = append(verdict.Failed, criterion.Name)
		}
	}
	p.processed.Add(1)

	if len(verdict.Failed) > 0 {
		p.failed.Add(1)
		p.logger.Warn("quality evaluation failed criteria",
			zap.String("session_id", task.SessionID.String()),
			zap.String("stage", task.Stage),
			zap.String("method", string(task.Method)),
			zap.Strings("failed", verdict.Failed))
	}

	// Verdicts are observability, not control flow; never stall a worker
	// on a slow consumer.
	select {
	case p.verdicts <- verdict:
	default:
	}
}
