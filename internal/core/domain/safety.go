package domain

import (
	"math"
	"strings"
)

// Severity is ordered minor < moderate < high < critical.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityModerate:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// RiskLevel is the aggregate level of a safety check.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFromSeverity maps minor->low, moderate->medium, high->high, critical->critical.
func RiskFromSeverity(s Severity) RiskLevel {
	switch s {
	case SeverityCritical:
		return RiskCritical
	case SeverityHigh:
		return RiskHigh
	case SeverityModerate:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

type OrganFunction string

const (
	OrganUnknown  OrganFunction = ""
	OrganNormal   OrganFunction = "normal"
	OrganMild     OrganFunction = "mild"
	OrganModerate OrganFunction = "moderate"
	OrganSevere   OrganFunction = "severe"
)

func (o OrganFunction) Valid() bool {
	switch o {
	case OrganUnknown, OrganNormal, OrganMild, OrganModerate, OrganSevere:
		return true
	default:
		return false
	}
}

type AgeBand string

const (
	AgeAny       AgeBand = ""
	AgePediatric AgeBand = "pediatric"
	AgeAdult     AgeBand = "adult"
	AgeElderly   AgeBand = "elderly"
)

// Condition-like states derived from the patient profile so that drug rules for
// them are evaluated the same way as listed conditions.
const (
	StatePediatric      = "pediatric"
	StateAdvancedAge    = "advanced age"
	StateSevereRenal    = "severe renal impairment"
	StateSevereHepatic  = "severe hepatic impairment"
	StatePregnancy      = "pregnancy"
	PediatricAgeCutoff  = 18
	AdvancedAgeCutoff   = 80
	ElderlyDosingCutoff = 65
)

// PatientProfile is caller supplied and never mutated. A nil list or pointer and
// an empty organ function mean "not provided", which is distinct from "none".
type PatientProfile struct {
	Age            *int          `json:"age,omitempty"`
	Gender         string        `json:"gender,omitempty"`
	Weight         *float64      `json:"weight,omitempty"`
	Conditions     []string      `json:"conditions"`
	Medications    []string      `json:"medications"`
	Allergies      []string      `json:"allergies"`
	KidneyFunction OrganFunction `json:"kidney_function,omitempty"`
	LiverFunction  OrganFunction `json:"liver_function,omitempty"`
	Pregnant       *bool         `json:"pregnant,omitempty"`
}

func (p PatientProfile) Validate() error {
	const op = "validate patient profile"
	if p.Age != nil && (*p.Age < 0 || *p.Age > 130) {
		return InvalidInput(op, "age %d is out of range 0..130", *p.Age)
	}
	if p.Weight != nil && (*p.Weight <= 0 || *p.Weight > 500 || math.IsNaN(*p.Weight)) {
		return InvalidInput(op, "weight %v is out of range (0, 500] kg", *p.Weight)
	}
	switch strings.ToLower(strings.TrimSpace(p.Gender)) {
	case "", "male", "female", "other":
	default:
		return InvalidInput(op, "gender %q must be one of male, female, other", p.Gender)
	}
	if !p.KidneyFunction.Valid() {
		return InvalidInput(op, "kidney_function %q must be one of normal, mild, moderate, severe", p.KidneyFunction)
	}
	if !p.LiverFunction.Valid() {
		return InvalidInput(op, "liver_function %q must be one of normal, mild, moderate, severe", p.LiverFunction)
	}
	if p.IsMale() && p.Pregnant != nil && *p.Pregnant {
		return InvalidInput(op, "pregnant is true for a male patient")
	}
	for field, list := range map[string][]string{"conditions": p.Conditions, "medications": p.Medications, "allergies": p.Allergies} {
		for _, item := range list {
			if strings.TrimSpace(item) == "" {
				return InvalidInput(op, "%s contains an empty entry", field)
			}
		}
	}
	return nil
}

func (p PatientProfile) IsMale() bool {
	return strings.EqualFold(strings.TrimSpace(p.Gender), "male")
}

// AgeBand returns AgeAny when age is unknown.
func (p PatientProfile) AgeBand() AgeBand {
	switch {
	case p.Age == nil:
		return AgeAny
	case *p.Age < PediatricAgeCutoff:
		return AgePediatric
	case *p.Age >= ElderlyDosingCutoff:
		return AgeElderly
	default:
		return AgeAdult
	}
}

type ContraindicationType string

const (
	ContraindicationAbsolute ContraindicationType = "absolute"
	ContraindicationRelative ContraindicationType = "relative"
)

type DrugInteraction struct {
	DrugA          string   `json:"drug_a"`
	DrugB          string   `json:"drug_b"`
	Severity       Severity `json:"severity"`
	Mechanism      string   `json:"mechanism"`
	ClinicalEffect string   `json:"clinical_effect"`
	Management     string   `json:"management"`
}

type Contraindication struct {
	Medication   string               `json:"medication"`
	Condition    string               `json:"condition"`
	Type         ContraindicationType `json:"type"`
	Severity     Severity             `json:"severity"`
	Reason       string               `json:"reason"`
	Alternatives []string             `json:"alternatives"`
}

type DosingAlert struct {
	Drug       string   `json:"drug"`
	DailyDose  float64  `json:"daily_dose"`
	Unit       string   `json:"unit"`
	MinDaily   float64  `json:"min_daily"`
	MaxDaily   float64  `json:"max_daily"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Adjustment string   `json:"adjustment,omitempty"`
}

type SafetyValidationResult struct {
	OverallSafetyScore     float64            `json:"overall_safety_score"`
	RiskLevel              RiskLevel          `json:"risk_level"`
	RecommendedDrugs       []string           `json:"recommended_drugs"`
	DrugInteractions       []DrugInteraction  `json:"drug_interactions"`
	Contraindications      []Contraindication `json:"contraindications"`
	DosingAlerts           []DosingAlert      `json:"dosing_alerts"`
	Warnings               []string           `json:"warnings"`
	Recommendations        []string           `json:"recommendations"`
	MonitoringRequirements []string           `json:"monitoring_requirements"`
}

type SafetyRequest struct {
	RecommendationText     string         `json:"recommendation_text"`
	Patient                PatientProfile `json:"patient_profile"`
	CheckInteractions      bool           `json:"check_interactions"`
	CheckContraindications bool           `json:"check_contraindications"`
}

// Knowledge-base rule records.

type InteractionRule struct {
	DrugA          string   `json:"drug_a" yaml:"drug_a"`
	DrugB          string   `json:"drug_b" yaml:"drug_b"`
	Severity       Severity `json:"severity" yaml:"severity"`
	Mechanism      string   `json:"mechanism" yaml:"mechanism"`
	ClinicalEffect string   `json:"clinical_effect" yaml:"clinical_effect"`
	Management     string   `json:"management" yaml:"management"`
	Monitoring     []string `json:"monitoring,omitempty" yaml:"monitoring"`
}

type ContraindicationRule struct {
	Drug         string               `json:"drug" yaml:"drug"`
	Condition    string               `json:"condition" yaml:"condition"`
	Type         ContraindicationType `json:"type" yaml:"type"`
	Severity     Severity             `json:"severity,omitempty" yaml:"severity"`
	Reason       string               `json:"reason" yaml:"reason"`
	Alternatives []string             `json:"alternatives,omitempty" yaml:"alternatives"`
	Monitoring   []string             `json:"monitoring,omitempty" yaml:"monitoring"`
}

// EffectiveSeverity defaults absolute rules to critical and relative rules to moderate.
func (r ContraindicationRule) EffectiveSeverity() Severity {
	if r.Severity.Valid() {
		return r.Severity
	}
	if r.Type == ContraindicationRelative {
		return SeverityModerate
	}
	return SeverityCritical
}

// DosingRange bounds a total daily dose. Empty AgeBand, Renal or Hepatic match any patient.
type DosingRange struct {
	Drug       string        `json:"drug" yaml:"drug"`
	AgeBand    AgeBand       `json:"age_band,omitempty" yaml:"age_band"`
	Renal      OrganFunction `json:"renal,omitempty" yaml:"renal"`
	Hepatic    OrganFunction `json:"hepatic,omitempty" yaml:"hepatic"`
	MinDaily   float64       `json:"min_daily" yaml:"min_daily"`
	MaxDaily   float64       `json:"max_daily" yaml:"max_daily"`
	Unit       string        `json:"unit" yaml:"unit"`
	Note       string        `json:"note,omitempty" yaml:"note"`
	Monitoring []string      `json:"monitoring,omitempty" yaml:"monitoring"`
}

func (r DosingRange) Specificity() int {
	n := 0
	if r.AgeBand != AgeAny {
		n++
	}
	if r.Renal != OrganUnknown {
		n++
	}
	if r.Hepatic != OrganUnknown {
		n++
	}
	return n
}
