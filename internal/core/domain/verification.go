package domain

// HallucinationRisk bands, ordered low < medium < high < critical.
//
//	overall_score >= 0.8 -> low
//	overall_score >= 0.5 -> medium
//	otherwise            -> high
//
// An unverified dosing or administration claim escalates the band by one.
type HallucinationRisk string

const (
	HallucinationLow      HallucinationRisk = "low"
	HallucinationMedium   HallucinationRisk = "medium"
	HallucinationHigh     HallucinationRisk = "high"
	HallucinationCritical HallucinationRisk = "critical"
)

var hallucinationOrder = []HallucinationRisk{
	HallucinationLow,
	HallucinationMedium,
	HallucinationHigh,
	HallucinationCritical,
}

func (r HallucinationRisk) Level() int {
	for i, v := range hallucinationOrder {
		if v == r {
			return i
		}
	}
	return -1
}

// Escalate moves one band up, capped at critical.
func (r HallucinationRisk) Escalate() HallucinationRisk {
	level := r.Level()
	if level < 0 || level+1 >= len(hallucinationOrder) {
		return HallucinationCritical
	}
	return hallucinationOrder[level+1]
}

// RiskBands holds the inclusive lower bounds of the low and medium bands.
type RiskBands struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
}

func DefaultRiskBands() RiskBands {
	return RiskBands{Low: 0.8, Medium: 0.5}
}

func (b RiskBands) Classify(score float64) HallucinationRisk {
	switch {
	case score >= b.Low:
		return HallucinationLow
	case score >= b.Medium:
		return HallucinationMedium
	default:
		return HallucinationHigh
	}
}

type StatementScore struct {
	Statement         string   `json:"statement"`
	Score             float64  `json:"score"`
	Verified          bool     `json:"verified"`
	SupportingChunkID string   `json:"supporting_chunk_id,omitempty"`
	ClinicalTerms     []string `json:"clinical_terms,omitempty"`
}

type VerificationResult struct {
	OverallScore      float64           `json:"overall_score"`
	VerifiedFacts     []string          `json:"verified_facts"`
	UnverifiedFacts   []string          `json:"unverified_facts"`
	HallucinationRisk HallucinationRisk `json:"hallucination_risk"`
	Statements        []StatementScore  `json:"statements"`
	Notices           []Notice          `json:"notices,omitempty"`
}

// VerifyRequest accepts evidence inline, by chunk id against the active snapshot, or both.
type VerifyRequest struct {
	AnswerText string   `json:"answer_text"`
	Evidence   []Chunk  `json:"evidence_chunks,omitempty"`
	ChunkIDs   []string `json:"chunk_ids,omitempty"`
}
