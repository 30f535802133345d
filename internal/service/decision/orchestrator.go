package decision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/clinical-governance-backend/internal/domain/attestation"
	"github.com/clinicore/clinical-governance-backend/internal/domain/audit"
	domainerrors "github.com/clinicore/clinical-governance-backend/internal/domain/errors"
	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

// Settings are the tunable bounds of the decision pipeline.
type Settings struct {
	AITimeout            time.Duration
	ProbabilityThreshold float64
	MaxDiagnoses         int
}

// Dependencies are the collaborators the orchestrator coordinates. Trials
// and Coverage may be nil; everything else is required.
type Dependencies struct {
	History      HistoryStore
	Diagnosis    DiagnosisModel
	Treatment    TreatmentModel
	Interactions InteractionChecker
	Guidelines   GuidelineSource
	Trials       TrialMatcher
	Coverage     CoverageChecker
	Gate         *attestation.Gate
	Quality      *QualityPool
	Audit        SafetyLogger
}

// Orchestrator runs the clinical decision pipeline: merge patient state,
// rank a differential, recommend treatments for the leading diagnoses,
// screen for interactions and schedule asynchronous quality evaluation.
// Stages one to three abort the run on failure; everything after them only
// enriches the result and degrades to a warning.
type Orchestrator struct {
	logger    *zap.Logger
	metrics   *metrics.Registry
	processor *Processor
	settings  Settings
	deps      Dependencies
}

// NewOrchestrator wires the pipeline. Zero-valued settings fall back to
// the configuration defaults.
func NewOrchestrator(logger *zap.Logger, registry *metrics.Registry, settings Settings, deps Dependencies) *Orchestrator {
	if settings.ProbabilityThreshold <= 0 {
		settings.ProbabilityThreshold = 0.3
	}
	if settings.MaxDiagnoses <= 0 {
		settings.MaxDiagnoses = 3
	}
	return &Orchestrator{
		logger:    logger,
		metrics:   registry,
		processor: NewProcessor(logger, registry, settings.AITimeout),
		settings:  settings,
		deps:      deps,
	}
}

// Decide runs one full pipeline pass.
func (o *Orchestrator) Decide(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	history, err := o.deps.History.PatientState(ctx, req.Observation.PatientID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "loading patient history")
	}
	state := mergeState(history, req.Observation)

	result := &DecisionResult{
		SessionID:        req.SessionID,
		PatientID:        state.PatientID,
		State:            state,
		TreatmentMethods: map[string]Method{},
		Attestation:      o.deps.Gate.CheckAttestation(req.Attestation),
		GeneratedAt:      time.Now().UTC(),
	}
	if result.Attestation.Required {
		result.Warnings = append(result.Warnings, result.Attestation.Message)
	}

	diagnosed := Process(ctx, o.processor, "differential",
		func(ctx context.Context) ([]Diagnosis, error) {
			return o.deps.Diagnosis.Differential(ctx, state)
		},
		func() []Diagnosis { return fallbackDifferential(state) },
		validDifferential,
	)
	result.Diagnoses = rankDiagnoses(diagnosed.Value)
	result.DiagnosisMethod = diagnosed.Method

	leading := o.leadingDiagnoses(result.Diagnoses)
	if len(leading) == 0 {
		result.Warnings = append(result.Warnings,
			"no diagnosis cleared the probability threshold; treatments not generated")
	}

	methods := []Method{diagnosed.Method}
	for _, diagnosis := range leading {
		treated := o.treatmentsFor(ctx, state, diagnosis)
		result.Treatments = append(result.Treatments, treated.Value...)
		result.TreatmentMethods[diagnosis.Code] = treated.Method
		methods = append(methods, treated.Method)
	}
	result.Method = combineMethods(methods...)

	o.screenInteractions(ctx, result)
	o.enrich(ctx, state, result)
	o.scheduleQuality(ctx, result)
	o.auditDecision(ctx, req, result)

	o.logger.Info("clinical decision compiled",
		zap.String("session_id", req.SessionID.String()),
		zap.String("patient_id", state.PatientID),
		zap.String("method", string(result.Method)),
		zap.Int("diagnoses", len(result.Diagnoses)),
		zap.Int("treatments", len(result.Treatments)),
		zap.Bool("attestation_required", result.Attestation.Required))

	return result, nil
}

// leadingDiagnoses keeps the top entries above the probability threshold.
func (o *Orchestrator) leadingDiagnoses(diagnoses []Diagnosis) []Diagnosis {
	leading := make([]Diagnosis, 0, o.settings.MaxDiagnoses)
	for _, d := range diagnoses {
		if d.Probability <= o.settings.ProbabilityThreshold {
			continue
		}
		leading = append(leading, d)
		if len(leading) == o.settings.MaxDiagnoses {
			break
		}
	}
	return leading
}

// treatmentsFor resolves treatments for one diagnosis: model first, then
// guidelines, then the conservative placeholder.
func (o *Orchestrator) treatmentsFor(ctx context.Context, state MergedPatientState, diagnosis Diagnosis) Result[[]TreatmentOption] {
	return Process(ctx, o.processor, "treatment",
		func(ctx context.Context) ([]TreatmentOption, error) {
			return o.deps.Treatment.Recommend(ctx, state, diagnosis)
		},
		func() []TreatmentOption {
			options, err := o.deps.Guidelines.FirstLine(ctx, diagnosis.Code)
			if err != nil || len(options) == 0 {
				if err != nil {
					o.logger.Warn("guideline source unavailable",
						zap.String("diagnosis", diagnosis.Code),
						zap.Error(err))
				}
				return conservativeTreatment(diagnosis)
			}
			return options
		},
		validTreatments(diagnosis.Code),
	)
}

// screenInteractions screens current plus recommended medications. A
// checker failure becomes a warning, never a missing decision.
func (o *Orchestrator) screenInteractions(ctx context.Context, result *DecisionResult) {
	medications := append([]string{}, result.State.Medications...)
	for _, option := range result.Treatments {
		if option.Medication != "" {
			medications = append(medications, option.Medication)
		}
	}
	if len(medications) == 0 {
		return
	}

	alerts, err := o.deps.Interactions.Interactions(ctx, union(medications, nil))
	if err != nil {
		o.logger.Warn("drug interaction screen unavailable", zap.Error(err))
		result.Warnings = append(result.Warnings, "drug interaction screen unavailable for this decision")
		return
	}
	result.Alerts = append(result.Alerts, alerts...)
}

// enrich adds trial matches and coverage when those collaborators are
// wired. Both are strictly best effort.
func (o *Orchestrator) enrich(ctx context.Context, state MergedPatientState, result *DecisionResult) {
	if o.deps.Trials != nil {
		if matches, err := o.deps.Trials.Matching(ctx, state); err != nil {
			o.logger.Warn("trial matching unavailable", zap.Error(err))
		} else {
			result.TrialMatches = matches
		}
	}

	if o.deps.Coverage == nil {
		return
	}
	for _, option := range result.Treatments {
		if option.Medication == "" {
			continue
		}
		covered, err := o.deps.Coverage.Covered(ctx, option.Medication)
		if err != nil {
			o.logger.Warn("coverage check unavailable",
				zap.String("medication", option.Medication),
				zap.Error(err))
			continue
		}
		if result.Coverage == nil {
			result.Coverage = map[string]bool{}
		}
		result.Coverage[option.Medication] = covered
	}
}

// scheduleQuality submits every AI-influenced output for asynchronous
// review. Pure fallback output is deterministic and needs no review.
func (o *Orchestrator) scheduleQuality(ctx context.Context, result *DecisionResult) {
	if o.deps.Quality == nil {
		return
	}
	if result.DiagnosisMethod != MethodFallback {
		o.deps.Quality.Submit(ctx, QualityTask{
			SessionID: result.SessionID,
			Stage:     "differential",
			Method:    result.DiagnosisMethod,
			Payload:   result.Diagnoses,
		})
	}
	for code, method := range result.TreatmentMethods {
		if method == MethodFallback {
			continue
		}
		var options []TreatmentOption
		for _, option := range result.Treatments {
			if option.DiagnosisCode == code {
				options = append(options, option)
			}
		}
		o.deps.Quality.Submit(ctx, QualityTask{
			SessionID: result.SessionID,
			Stage:     "treatment",
			Method:    method,
			Payload:   options,
		})
	}
}

// auditDecision persists the terminal decision, and separately the
// attestation requirement when one was raised. The logger owns its own
// failure handling, so this never influences the returned result.
func (o *Orchestrator) auditDecision(ctx context.Context, req DecisionRequest, result *DecisionResult) {
	if o.deps.Audit == nil {
		return
	}

	o.deps.Audit.LogSafetyEvent(ctx, audit.SafetyEventContext{
		UserID:    req.UserID,
		PatientID: result.PatientID,
		RuleID:    "DECISION-PIPELINE",
		RuleName:  "Clinical decision pipeline",
		Severity:  "INFO",
		Action:    "DECISION_RECORDED",
		Rationale: fmt.Sprintf("method=%s diagnoses=%d treatments=%d alerts=%d",
			result.Method, len(result.Diagnoses), len(result.Treatments), len(result.Alerts)),
	})

	if result.Attestation.Required {
		o.deps.Audit.LogSafetyEvent(ctx, audit.SafetyEventContext{
			UserID:    req.UserID,
			PatientID: result.PatientID,
			RuleID:    "ATTESTATION-GATE",
			RuleName:  "Clinician attestation gate",
			Severity:  "ADVISORY",
			Action:    result.Attestation.Reason,
			Rationale: result.Attestation.Message,
		})
	}
}

func rankDiagnoses(diagnoses []Diagnosis) []Diagnosis {
	ranked := append([]Diagnosis{}, diagnoses...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	return ranked
}
