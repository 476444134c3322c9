package usecase

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

type SafetyOptions struct {
	// Penalties are subtracted from 1.0 once per triggered item of that severity.
	Penalties map[domain.Severity]float64
	// DoseWindow is how many bytes after a drug mention are searched for its dose.
	DoseWindow int
}

func DefaultSafetyOptions() SafetyOptions {
	return SafetyOptions{
		Penalties: map[domain.Severity]float64{
			domain.SeverityCritical: 0.4,
			domain.SeverityHigh:     0.25,
			domain.SeverityModerate: 0.1,
			domain.SeverityMinor:    0.05,
		},
		DoseWindow: 50,
	}
}

type SafetyUseCase struct {
	kb    ports.KnowledgeBase
	vocab ports.DrugVocabulary
	opts  SafetyOptions
}

func NewSafetyUseCase(kb ports.KnowledgeBase, vocab ports.DrugVocabulary, opts SafetyOptions) *SafetyUseCase {
	def := DefaultSafetyOptions()
	if len(opts.Penalties) == 0 {
		opts.Penalties = def.Penalties
	}
	if opts.DoseWindow <= 0 {
		opts.DoseWindow = def.DoseWindow
	}
	return &SafetyUseCase{kb: kb, vocab: vocab, opts: opts}
}

// recommendedDose is a dose stated next to a drug mention, converted to a
// total daily amount.
type recommendedDose struct {
	amount      float64
	unit        string
	perDay      float64
	frequency   string
	assumedOnce bool
}

func (d recommendedDose) daily() float64 {
	return d.amount * d.perDay
}

// safetyReport accumulates triggered items and generated lines in order.
type safetyReport struct {
	result     *domain.SafetyValidationResult
	seenLines  map[string]struct{}
	severities []domain.Severity
}

func (r *safetyReport) add(kind string, list *[]string, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	key := kind + "|" + line
	if _, ok := r.seenLines[key]; ok {
		return
	}
	r.seenLines[key] = struct{}{}
	*list = append(*list, line)
}

func (r *safetyReport) warn(line string)      { r.add("w", &r.result.Warnings, line) }
func (r *safetyReport) recommend(line string) { r.add("r", &r.result.Recommendations, line) }

func (r *safetyReport) monitor(lines ...string) {
	for _, l := range lines {
		r.add("m", &r.result.MonitoringRequirements, l)
	}
}

// Validate screens the drugs named in a recommendation against a patient
// profile. Missing profile fields are reported as insufficient information and
// never read as "no problem".
func (uc *SafetyUseCase) Validate(_ context.Context, req domain.SafetyRequest) (*domain.SafetyValidationResult, error) {
	const op = "validate safety"
	text := strings.TrimSpace(req.RecommendationText)
	if text == "" {
		return nil, domain.InvalidInput(op, "recommendation_text is required")
	}
	if err := req.Patient.Validate(); err != nil {
		return nil, err
	}

	report := &safetyReport{
		result: &domain.SafetyValidationResult{
			RiskLevel:              domain.RiskLow,
			OverallSafetyScore:     1,
			RecommendedDrugs:       []string{},
			DrugInteractions:       []domain.DrugInteraction{},
			Contraindications:      []domain.Contraindication{},
			DosingAlerts:           []domain.DosingAlert{},
			Warnings:               []string{},
			Recommendations:        []string{},
			MonitoringRequirements: []string{},
		},
		seenLines: make(map[string]struct{}),
	}

	drugs, doses := uc.extractDrugs(text)
	if len(drugs) == 0 {
		report.warn("No medication identified in the recommendation; no drug-specific checks were run")
		return report.result, nil
	}
	report.result.RecommendedDrugs = drugs

	patient := req.Patient
	if req.CheckInteractions {
		uc.checkInteractions(drugs, patient, report)
	}
	if req.CheckContraindications {
		uc.checkContraindications(drugs, patient, report)
	}
	uc.checkDosing(drugs, doses, patient, report)

	uc.aggregate(report)
	return report.result, nil
}

var (
	doseExpr     = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(mg|mcg|µg|g|units?|iu)$`)
	intervalExpr = regexp.MustCompile(`(?i)q(\d{1,2})h`)
)

var timesPerDay = map[string]float64{
	"once daily":        1,
	"twice daily":       2,
	"three times daily": 3,
	"four times daily":  4,
}

// extractDrugs returns drugs in order of first mention and the first dose
// stated after each mention, within the dose window and before the next drug.
func (uc *SafetyUseCase) extractDrugs(text string) ([]string, map[string]recommendedDose) {
	matches := uc.vocab.Match(text)
	var drugIdx []int
	for i, m := range matches {
		if m.Category == domain.TermDrug {
			drugIdx = append(drugIdx, i)
		}
	}

	var drugs []string
	doses := make(map[string]recommendedDose)
	seen := make(map[string]struct{})
	for n, i := range drugIdx {
		drug := matches[i]
		if _, ok := seen[drug.Term]; !ok {
			seen[drug.Term] = struct{}{}
			drugs = append(drugs, drug.Term)
		}
		if _, ok := doses[drug.Term]; ok {
			continue
		}
		limit := drug.End + uc.opts.DoseWindow
		if n+1 < len(drugIdx) {
			limit = min(limit, matches[drugIdx[n+1]].Start)
		}
		if dose, ok := doseAfter(text, matches, i, limit); ok {
			doses[drug.Term] = dose
		}
	}
	return drugs, doses
}

func doseAfter(text string, matches []domain.TermMatch, from, limit int) (recommendedDose, bool) {
	for j := from + 1; j < len(matches); j++ {
		m := matches[j]
		if m.Start >= limit {
			break
		}
		if m.Category != domain.TermDosage {
			continue
		}
		parts := doseExpr.FindStringSubmatch(strings.TrimSpace(text[m.Start:m.End]))
		if parts == nil {
			continue
		}
		amount, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		dose := recommendedDose{amount: amount, unit: normalizeUnit(parts[2]), perDay: 1, frequency: "once daily", assumedOnce: true}
		if perDay, label, ok := frequencyAfter(text, matches, j, m.End+frequencyWindow); ok {
			dose.perDay, dose.frequency, dose.assumedOnce = perDay, label, false
		}
		return dose, true
	}
	return recommendedDose{}, false
}

const frequencyWindow = 30

func frequencyAfter(text string, matches []domain.TermMatch, from, limit int) (float64, string, bool) {
	for k := from + 1; k < len(matches); k++ {
		m := matches[k]
		if m.Start >= limit || m.Category == domain.TermDrug || m.Category == domain.TermDosage {
			break
		}
		if m.Category != domain.TermAdministration {
			continue
		}
		if perDay, ok := timesPerDay[m.Term]; ok {
			return perDay, m.Term, true
		}
		if parts := intervalExpr.FindStringSubmatch(text[m.Start:m.End]); parts != nil {
			hours, err := strconv.Atoi(parts[1])
			if err == nil && hours > 0 && hours <= 24 {
				return 24 / float64(hours), strings.ToLower(parts[0]), true
			}
		}
	}
	return 0, "", false
}

func normalizeUnit(u string) string {
	u = strings.ToLower(u)
	switch u {
	case "µg":
		return "mcg"
	case "unit", "units":
		return "units"
	}
	return u
}

// convertDose converts between mass units. Unit-based doses only compare with
// unit-based ranges.
func convertDose(amount float64, from, to string) (float64, bool) {
	toMg := map[string]float64{"g": 1000, "mg": 1, "mcg": 0.001}
	from, to = normalizeUnit(from), normalizeUnit(to)
	if from == to {
		return amount, true
	}
	f, okFrom := toMg[from]
	t, okTo := toMg[to]
	if !okFrom || !okTo {
		return 0, false
	}
	return amount * f / t, true
}

func (uc *SafetyUseCase) canonicalDrug(name string) string {
	if term, ok := uc.vocab.Canonical(name, domain.TermDrug); ok {
		return term
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func (uc *SafetyUseCase) canonicalCondition(name string) string {
	if term, ok := uc.vocab.Canonical(name, domain.TermCondition); ok {
		return term
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func (uc *SafetyUseCase) checkInteractions(drugs []string, patient domain.PatientProfile, report *safetyReport) {
	if patient.Medications == nil {
		report.warn("Insufficient information: current medications were not provided, drug interactions could not be fully checked")
	}

	others := make([]string, 0, len(patient.Medications)+len(drugs))
	for _, med := range patient.Medications {
		others = append(others, uc.canonicalDrug(med))
	}

	checked := make(map[[2]string]struct{})
	check := func(a, b string) {
		if a == b {
			return
		}
		key := [2]string{min(a, b), max(a, b)}
		if _, ok := checked[key]; ok {
			return
		}
		checked[key] = struct{}{}

		rule, ok := uc.kb.LookupInteraction(a, b)
		if !ok {
			return
		}
		report.result.DrugInteractions = append(report.result.DrugInteractions, domain.DrugInteraction{
			DrugA:          a,
			DrugB:          b,
			Severity:       rule.Severity,
			Mechanism:      rule.Mechanism,
			ClinicalEffect: rule.ClinicalEffect,
			Management:     rule.Management,
		})
		report.severities = append(report.severities, rule.Severity)
		report.warn(fmt.Sprintf("%s interaction between %s and %s: %s", capitalize(string(rule.Severity)), a, b, firstNonEmpty(rule.ClinicalEffect, rule.Mechanism)))
		report.recommend(rule.Management)
		report.monitor(rule.Monitoring...)
	}

	for i, drug := range drugs {
		for _, other := range others {
			check(drug, other)
		}
		for _, other := range drugs[i+1:] {
			check(drug, other)
		}
	}
}

// patientStates lists condition keys for the profile: canonical listed
// conditions followed by states derived from age, organ function and
// pregnancy.
func (uc *SafetyUseCase) patientStates(patient domain.PatientProfile, report *safetyReport) []string {
	var states []string
	seen := make(map[string]struct{})
	addState := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		states = append(states, s)
	}

	if patient.Conditions == nil {
		report.warn("Insufficient information: medical conditions were not provided, contraindications could not be fully checked")
	}
	for _, c := range patient.Conditions {
		addState(uc.canonicalCondition(c))
	}

	switch {
	case patient.Age == nil:
		report.warn("Insufficient information: patient age not provided, age-specific rules were not evaluated")
	case *patient.Age < domain.PediatricAgeCutoff:
		addState(domain.StatePediatric)
	case *patient.Age >= domain.AdvancedAgeCutoff:
		addState(domain.StateAdvancedAge)
	}

	switch patient.KidneyFunction {
	case domain.OrganUnknown:
		report.warn("Insufficient information: kidney function not provided, renal rules were not evaluated")
	case domain.OrganSevere:
		addState(domain.StateSevereRenal)
	}

	switch patient.LiverFunction {
	case domain.OrganUnknown:
		report.warn("Insufficient information: liver function not provided, hepatic rules were not evaluated")
	case domain.OrganSevere:
		addState(domain.StateSevereHepatic)
	}

	switch {
	case patient.Pregnant != nil && *patient.Pregnant:
		addState(domain.StatePregnancy)
	case patient.Pregnant == nil && !patient.IsMale():
		report.warn("Insufficient information: pregnancy status not provided, pregnancy rules were not evaluated")
	}
	return states
}

func (uc *SafetyUseCase) checkContraindications(drugs []string, patient domain.PatientProfile, report *safetyReport) {
	states := uc.patientStates(patient, report)
	for _, drug := range drugs {
		for _, state := range states {
			rule, ok := uc.kb.LookupContraindication(drug, state)
			if !ok {
				continue
			}
			severity := rule.EffectiveSeverity()
			report.result.Contraindications = append(report.result.Contraindications, domain.Contraindication{
				Medication:   drug,
				Condition:    state,
				Type:         rule.Type,
				Severity:     severity,
				Reason:       rule.Reason,
				Alternatives: nonNil(rule.Alternatives),
			})
			report.severities = append(report.severities, severity)
			report.warn(fmt.Sprintf("%s contraindication: %s in %s: %s", capitalize(string(rule.Type)), drug, state, rule.Reason))
			if len(rule.Alternatives) > 0 {
				report.recommend(fmt.Sprintf("Consider alternatives to %s: %s", drug, strings.Join(rule.Alternatives, ", ")))
			}
			report.monitor(rule.Monitoring...)
		}
	}
	uc.checkAllergies(drugs, patient, report)
}

func (uc *SafetyUseCase) checkAllergies(drugs []string, patient domain.PatientProfile, report *safetyReport) {
	if patient.Allergies == nil {
		report.warn("Insufficient information: allergies were not provided, allergy screening was not performed")
		return
	}
	for _, drug := range drugs {
		class := uc.vocab.ClassOf(drug)
		for _, allergy := range patient.Allergies {
			allergen := uc.canonicalDrug(allergy)
			if allergen != drug && (class == "" || allergen != class) {
				continue
			}
			report.result.Contraindications = append(report.result.Contraindications, domain.Contraindication{
				Medication:   drug,
				Condition:    "allergy: " + allergen,
				Type:         domain.ContraindicationAbsolute,
				Severity:     domain.SeverityCritical,
				Reason:       fmt.Sprintf("patient reports an allergy to %s", allergen),
				Alternatives: []string{},
			})
			report.severities = append(report.severities, domain.SeverityCritical)
			report.warn(fmt.Sprintf("Allergy: patient is allergic to %s; do not give %s", allergen, drug))
		}
	}
}

func (uc *SafetyUseCase) checkDosing(drugs []string, doses map[string]recommendedDose, patient domain.PatientProfile, report *safetyReport) {
	for _, drug := range drugs {
		dose, ok := doses[drug]
		if !ok {
			continue
		}
		if dose.assumedOnce {
			report.warn(fmt.Sprintf("Dose frequency for %s not stated; assumed once daily", drug))
		}
		rng, ok := uc.kb.LookupDosingRange(drug, patient.AgeBand(), patient.KidneyFunction, patient.LiverFunction)
		if !ok {
			continue
		}
		daily, ok := convertDose(dose.daily(), dose.unit, rng.Unit)
		if !ok {
			report.warn(fmt.Sprintf("Dose of %s is given in %s and cannot be compared with the %s range", drug, dose.unit, rng.Unit))
			continue
		}
		report.monitor(rng.Monitoring...)
		doseAdjustmentGaps(patient, report)

		alert := domain.DosingAlert{
			Drug:       drug,
			DailyDose:  round(daily),
			Unit:       rng.Unit,
			MinDaily:   rng.MinDaily,
			MaxDaily:   rng.MaxDaily,
			Adjustment: rng.Note,
		}
		switch {
		case daily > 2*rng.MaxDaily:
			alert.Severity = domain.SeverityCritical
			alert.Message = fmt.Sprintf("%s %s %s/day is more than twice the maximum of %s %s/day", drug, fmtNum(daily), rng.Unit, fmtNum(rng.MaxDaily), rng.Unit)
		case daily > rng.MaxDaily:
			alert.Severity = domain.SeverityHigh
			alert.Message = fmt.Sprintf("%s %s %s/day exceeds the maximum of %s %s/day", drug, fmtNum(daily), rng.Unit, fmtNum(rng.MaxDaily), rng.Unit)
		case daily < rng.MinDaily:
			alert.Severity = domain.SeverityModerate
			alert.Message = fmt.Sprintf("%s %s %s/day is below the usual minimum of %s %s/day", drug, fmtNum(daily), rng.Unit, fmtNum(rng.MinDaily), rng.Unit)
		default:
			continue
		}
		report.result.DosingAlerts = append(report.result.DosingAlerts, alert)
		report.severities = append(report.severities, alert.Severity)
		report.warn(alert.Message)
		report.recommend(rng.Note)
	}
}

// doseAdjustmentGaps flags profile fields whose absence means a dose was
// compared against the unadjusted range.
func doseAdjustmentGaps(patient domain.PatientProfile, report *safetyReport) {
	if patient.Age == nil {
		report.warn("Insufficient information: patient age not provided, age-specific dose adjustment was not evaluated")
	}
	if patient.KidneyFunction == domain.OrganUnknown {
		report.warn("Insufficient information: kidney function not provided, renal dose adjustment was not evaluated")
	}
	if patient.LiverFunction == domain.OrganUnknown {
		report.warn("Insufficient information: liver function not provided, hepatic dose adjustment was not evaluated")
	}
}

func (uc *SafetyUseCase) aggregate(report *safetyReport) {
	score := 1.0
	risk := domain.RiskLow
	for _, s := range report.severities {
		score -= uc.opts.Penalties[s]
		if r := domain.RiskFromSeverity(s); r.Rank() > risk.Rank() {
			risk = r
		}
	}
	report.result.OverallSafetyScore = round(math.Max(0, math.Min(1, score)))
	report.result.RiskLevel = risk
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(round(v), 'f', -1, 64)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
