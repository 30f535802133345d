package decision

import (
	"context"
	"fmt"
	"sort"

	"github.com/clinicore/clinical-governance-backend/internal/domain/audit"
)

// HistoryStore loads the last persisted state of a patient.
type HistoryStore interface {
	PatientState(ctx context.Context, patientID string) (PatientSnapshot, error)
}

// SafetyLogger persists safety-relevant events. Its implementation must
// absorb its own failures; the pipeline calls it and moves on.
type SafetyLogger interface {
	LogSafetyEvent(ctx context.Context, event audit.SafetyEventContext)
}

// DiagnosisModel is the primary model path for differential diagnosis.
type DiagnosisModel interface {
	Differential(ctx context.Context, state MergedPatientState) ([]Diagnosis, error)
}

// TreatmentModel is the primary model path for treatment recommendations.
type TreatmentModel interface {
	Recommend(ctx context.Context, state MergedPatientState, diagnosis Diagnosis) ([]TreatmentOption, error)
}

// InteractionChecker screens a medication list for known interactions.
// It enriches the decision; a failure is logged and never blocks it.
type InteractionChecker interface {
	Interactions(ctx context.Context, medications []string) ([]Alert, error)
}

// GuidelineSource resolves first-line treatments for a diagnosis from
// published guidelines. It backs the deterministic treatment fallback.
type GuidelineSource interface {
	FirstLine(ctx context.Context, diagnosisCode string) ([]TreatmentOption, error)
}

// TrialMatcher finds clinical trials matching a patient state. Optional
// enrichment, never blocking.
type TrialMatcher interface {
	Matching(ctx context.Context, state MergedPatientState) ([]string, error)
}

// CoverageChecker reports whether a medication is covered for the clinic's
// payer mix. Optional enrichment, never blocking.
type CoverageChecker interface {
	Covered(ctx context.Context, medication string) (bool, error)
}

// mergeState overlays the live observation on the stored history. Scalar
// maps take the live value per key; list fields are unioned with history
// order preserved.
func mergeState(history, live PatientSnapshot) MergedPatientState {
	merged := MergedPatientState{
		PatientID:   live.PatientID,
		Vitals:      overlay(history.Vitals, live.Vitals),
		Labs:        overlay(history.Labs, live.Labs),
		Conditions:  union(history.Conditions, live.Conditions),
		Medications: union(history.Medications, live.Medications),
		Allergies:   union(history.Allergies, live.Allergies),
		HistoryAt:   history.RecordedAt,
		ObservedAt:  live.RecordedAt,
	}
	if merged.PatientID == "" {
		merged.PatientID = history.PatientID
	}
	return merged
}

func overlay(base, over map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func union(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, lists := range [][]string{base, extra} {
		for _, v := range lists {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// fallbackDifferential is the deterministic differential: fixed threshold
// rules over vitals and labs. It deliberately stays conservative and
// always returns at least one entry so the pipeline can proceed.
func fallbackDifferential(state MergedPatientState) []Diagnosis {
	var diagnoses []Diagnosis

	if egfr, ok := state.Labs["egfr"]; ok && egfr < 30 {
		diagnoses = append(diagnoses, Diagnosis{
			Code:        "N18.4",
			Label:       "Chronic kidney disease, stage 4",
			Probability: 0.6,
			Rationale:   fmt.Sprintf("eGFR %.0f mL/min below 30", egfr),
		})
	}
	if temp, ok := state.Vitals["temperature"]; ok && temp >= 38.3 {
		if hr, ok := state.Vitals["heartRate"]; ok && hr > 100 {
			diagnoses = append(diagnoses, Diagnosis{
				Code:        "R65.1",
				Label:       "Systemic inflammatory response",
				Probability: 0.55,
				Rationale:   fmt.Sprintf("temperature %.1f with heart rate %.0f", temp, hr),
			})
		}
	}
	if sys, ok := state.Vitals["systolicBP"]; ok && sys >= 180 {
		diagnoses = append(diagnoses, Diagnosis{
			Code:        "I16.9",
			Label:       "Hypertensive crisis",
			Probability: 0.65,
			Rationale:   fmt.Sprintf("systolic pressure %.0f mmHg", sys),
		})
	}
	if glucose, ok := state.Labs["glucose"]; ok && glucose >= 250 {
		diagnoses = append(diagnoses, Diagnosis{
			Code:        "R73.9",
			Label:       "Hyperglycemia",
			Probability: 0.5,
			Rationale:   fmt.Sprintf("glucose %.0f mg/dL", glucose),
		})
	}

	if len(diagnoses) == 0 {
		diagnoses = append(diagnoses, Diagnosis{
			Code:        "Z03.89",
			Label:       "Observation for suspected condition",
			Probability: 0.35,
			Rationale:   "no deterministic rule matched; clinical review advised",
		})
	}

	sort.Slice(diagnoses, func(i, j int) bool {
		return diagnoses[i].Probability > diagnoses[j].Probability
	})
	return diagnoses
}

// conservativeTreatment is the last-resort treatment when both the model
// and the guideline source are unavailable.
func conservativeTreatment(diagnosis Diagnosis) []TreatmentOption {
	return []TreatmentOption{{
		DiagnosisCode:  diagnosis.Code,
		Recommendation: "Refer for clinician review; automated recommendation unavailable",
	}}
}

// validDifferential rejects model output the pipeline cannot trust: empty
// differentials and probabilities outside [0, 1].
func validDifferential(diagnoses []Diagnosis) bool {
	if len(diagnoses) == 0 {
		return false
	}
	for _, d := range diagnoses {
		if d.Code == "" || d.Probability < 0 || d.Probability > 1 {
			return false
		}
	}
	return true
}

// validTreatments rejects model output that is empty or detached from its
// diagnosis.
func validTreatments(code string) func([]TreatmentOption) bool {
	return func(options []TreatmentOption) bool {
		if len(options) == 0 {
			return false
		}
		for _, option := range options {
			if option.Recommendation == "" || option.DiagnosisCode != code {
				return false
			}
		}
		return true
	}
}
