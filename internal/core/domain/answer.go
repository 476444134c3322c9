package domain

type AnswerRequest struct {
	Question string          `json:"question"`
	TopK     int             `json:"top_k"`
	Filter   SearchFilter    `json:"filters"`
	Weights  *FusionWeights  `json:"weights,omitempty"`
	Patient  *PatientProfile `json:"patient_profile,omitempty"`
}

// ClinicalAnswer is a generated answer together with the evidence it was checked against.
type ClinicalAnswer struct {
	Question     string                  `json:"question"`
	Answer       string                  `json:"answer"`
	Evidence     []RetrievalResult       `json:"evidence"`
	Contexts     []ParentContext         `json:"contexts"`
	Verification *VerificationResult     `json:"verification"`
	Safety       *SafetyValidationResult `json:"safety,omitempty"`
	Notices      []Notice                `json:"notices,omitempty"`
}
