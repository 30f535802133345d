package decision

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinical-governance-backend/internal/domain/attestation"
)

// Method tags how a pipeline output was produced. Every output carries one
// so downstream consumers and auditors can tell model output from
// deterministic output.
type Method string

const (
	// MethodAI marks output produced by the primary model path.
	MethodAI Method = "ai"
	// MethodFallback marks output produced entirely by the deterministic
	// fallback path.
	MethodFallback Method = "fallback"
	// MethodHybrid marks a result where both paths contributed.
	MethodHybrid Method = "hybrid"
)

// PatientSnapshot is one observation of a patient, either the stored
// history or the live intake values.
type PatientSnapshot struct {
	PatientID   string             `json:"patientId"`
	Vitals      map[string]float64 `json:"vitals,omitempty"`
	Labs        map[string]float64 `json:"labs,omitempty"`
	Conditions  []string           `json:"conditions,omitempty"`
	Medications []string           `json:"medications,omitempty"`
	Allergies   []string           `json:"allergies,omitempty"`
	RecordedAt  time.Time          `json:"recordedAt"`
}

// MergedPatientState is the stored history overlaid with the live
// observation. Live values win per key; list-valued fields are unioned.
type MergedPatientState struct {
	PatientID   string             `json:"patientId"`
	Vitals      map[string]float64 `json:"vitals"`
	Labs        map[string]float64 `json:"labs"`
	Conditions  []string           `json:"conditions"`
	Medications []string           `json:"medications"`
	Allergies   []string           `json:"allergies"`
	HistoryAt   time.Time          `json:"historyAt"`
	ObservedAt  time.Time          `json:"observedAt"`
}

// Diagnosis is one entry of a differential, ranked by probability.
type Diagnosis struct {
	Code        string  `json:"code"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Rationale   string  `json:"rationale"`
}

// TreatmentOption is one recommended treatment for a diagnosis.
type TreatmentOption struct {
	DiagnosisCode  string   `json:"diagnosisCode"`
	Recommendation string   `json:"recommendation"`
	Medication     string   `json:"medication,omitempty"`
	Cautions       []string `json:"cautions,omitempty"`
	GuidelineRef   string   `json:"guidelineRef,omitempty"`
}

// Alert is a safety finding attached to the decision, typically from the
// drug interaction screen.
type Alert struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// DecisionRequest is one clinical decision-support invocation.
type DecisionRequest struct {
	SessionID   uuid.UUID             `json:"sessionId"`
	UserID      string                `json:"userId"`
	ClinicID    string                `json:"clinicId,omitempty"`
	Observation PatientSnapshot       `json:"observation"`
	Attestation attestation.GateInput `json:"attestation"`
}

// DecisionResult is the compiled output of one pipeline run.
type DecisionResult struct {
	SessionID        uuid.UUID              `json:"sessionId"`
	PatientID        string                 `json:"patientId"`
	State            MergedPatientState     `json:"state"`
	Diagnoses        []Diagnosis            `json:"diagnoses"`
	DiagnosisMethod  Method                 `json:"diagnosisMethod"`
	Treatments       []TreatmentOption      `json:"treatments"`
	TreatmentMethods map[string]Method      `json:"treatmentMethods"`
	Method           Method                 `json:"method"`
	Alerts           []Alert                `json:"alerts"`
	Attestation      attestation.GateResult `json:"attestation"`
	TrialMatches     []string               `json:"trialMatches,omitempty"`
	Coverage         map[string]bool        `json:"coverage,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	GeneratedAt      time.Time              `json:"generatedAt"`
}
