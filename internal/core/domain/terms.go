package domain

type TermCategory string

const (
	TermCondition      TermCategory = "condition"
	TermDrug           TermCategory = "drug"
	TermProcedure      TermCategory = "procedure"
	TermMeasurement    TermCategory = "measurement"
	TermRecommendation TermCategory = "recommendation_class"
	TermDosage         TermCategory = "dosage"
	TermAdministration TermCategory = "administration"
)

// TermMatch is one lexicon hit. Start and End are byte offsets into the matched text.
type TermMatch struct {
	Term     string       `json:"term"`
	Category TermCategory `json:"category"`
	Class    string       `json:"class,omitempty"`
	Start    int          `json:"start"`
	End      int          `json:"end"`
}

// IsDosing reports whether the match names a dose or a route/frequency of administration.
func (m TermMatch) IsDosing() bool {
	return m.Category == TermDosage || m.Category == TermAdministration
}
