// Package knowledge holds the interaction, contraindication and dosing tables
// consulted by the safety engine, plus loaders for the supported table sources.
package knowledge

import (
	"fmt"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

// Tables is the source-neutral form of the knowledge base.
type Tables struct {
	Interactions      []domain.InteractionRule      `yaml:"interactions"`
	Contraindications []domain.ContraindicationRule `yaml:"contraindications"`
	Dosing            []domain.DosingRange          `yaml:"dosing"`
	DrugClasses       map[string]string             `yaml:"drug_classes"`
}

// Merge appends other's rules and fills class entries missing from t.
func (t Tables) Merge(other Tables) Tables {
	out := Tables{
		Interactions:      append(append([]domain.InteractionRule{}, t.Interactions...), other.Interactions...),
		Contraindications: append(append([]domain.ContraindicationRule{}, t.Contraindications...), other.Contraindications...),
		Dosing:            append(append([]domain.DosingRange{}, t.Dosing...), other.Dosing...),
		DrugClasses:       make(map[string]string, len(t.DrugClasses)+len(other.DrugClasses)),
	}
	for k, v := range other.DrugClasses {
		out.DrugClasses[key(k)] = key(v)
	}
	for k, v := range t.DrugClasses {
		out.DrugClasses[key(k)] = key(v)
	}
	return out
}

type pair struct {
	a, b string
}

// Base answers lookups by exact canonical name first and by drug class second.
// Interaction lookups are symmetric.
type Base struct {
	interactions      map[pair]domain.InteractionRule
	contraindications map[pair]domain.ContraindicationRule
	dosing            map[string][]domain.DosingRange
	classOf           map[string]string
}

func New(t Tables) (*Base, error) {
	b := &Base{
		interactions:      make(map[pair]domain.InteractionRule, len(t.Interactions)),
		contraindications: make(map[pair]domain.ContraindicationRule, len(t.Contraindications)),
		dosing:            make(map[string][]domain.DosingRange),
		classOf:           make(map[string]string, len(t.DrugClasses)),
	}
	for drug, class := range t.DrugClasses {
		b.classOf[key(drug)] = key(class)
	}

	for i, rule := range t.Interactions {
		rule.DrugA, rule.DrugB = key(rule.DrugA), key(rule.DrugB)
		if rule.DrugA == "" || rule.DrugB == "" {
			return nil, fmt.Errorf("interaction %d: both drugs are required", i)
		}
		if !rule.Severity.Valid() {
			return nil, fmt.Errorf("interaction %s+%s: invalid severity %q", rule.DrugA, rule.DrugB, rule.Severity)
		}
		b.interactions[pair{rule.DrugA, rule.DrugB}] = rule
		b.interactions[pair{rule.DrugB, rule.DrugA}] = rule
	}

	for i, rule := range t.Contraindications {
		rule.Drug, rule.Condition = key(rule.Drug), key(rule.Condition)
		if rule.Drug == "" || rule.Condition == "" {
			return nil, fmt.Errorf("contraindication %d: drug and condition are required", i)
		}
		switch rule.Type {
		case domain.ContraindicationAbsolute, domain.ContraindicationRelative:
		default:
			return nil, fmt.Errorf("contraindication %s/%s: invalid type %q", rule.Drug, rule.Condition, rule.Type)
		}
		if rule.Severity != "" && !rule.Severity.Valid() {
			return nil, fmt.Errorf("contraindication %s/%s: invalid severity %q", rule.Drug, rule.Condition, rule.Severity)
		}
		b.contraindications[pair{rule.Drug, rule.Condition}] = rule
	}

	for i, r := range t.Dosing {
		r.Drug = key(r.Drug)
		r.Unit = strings.ToLower(strings.TrimSpace(r.Unit))
		if r.Unit == "" {
			r.Unit = "mg"
		}
		if r.Drug == "" {
			return nil, fmt.Errorf("dosing %d: drug is required", i)
		}
		if r.MaxDaily <= 0 || r.MinDaily < 0 || r.MinDaily > r.MaxDaily {
			return nil, fmt.Errorf("dosing %s: invalid range %v..%v", r.Drug, r.MinDaily, r.MaxDaily)
		}
		if !r.Renal.Valid() || !r.Hepatic.Valid() {
			return nil, fmt.Errorf("dosing %s: invalid organ function qualifier", r.Drug)
		}
		switch r.AgeBand {
		case domain.AgeAny, domain.AgePediatric, domain.AgeAdult, domain.AgeElderly:
		default:
			return nil, fmt.Errorf("dosing %s: invalid age band %q", r.Drug, r.AgeBand)
		}
		b.dosing[r.Drug] = append(b.dosing[r.Drug], r)
	}
	return b, nil
}

// candidates returns the drug itself and then its class, if any.
func (b *Base) candidates(drug string) []string {
	drug = key(drug)
	out := []string{drug}
	if class, ok := b.classOf[drug]; ok && class != drug {
		out = append(out, class)
	}
	return out
}

func (b *Base) LookupInteraction(drugA, drugB string) (domain.InteractionRule, bool) {
	for _, a := range b.candidates(drugA) {
		for _, bb := range b.candidates(drugB) {
			if rule, ok := b.interactions[pair{a, bb}]; ok {
				rule.DrugA, rule.DrugB = key(drugA), key(drugB)
				return rule, true
			}
		}
	}
	return domain.InteractionRule{}, false
}

func (b *Base) LookupContraindication(drug, conditionOrState string) (domain.ContraindicationRule, bool) {
	condition := key(conditionOrState)
	for _, d := range b.candidates(drug) {
		if rule, ok := b.contraindications[pair{d, condition}]; ok {
			rule.Drug = key(drug)
			return rule, true
		}
	}
	return domain.ContraindicationRule{}, false
}

// LookupDosingRange picks the most specific range whose qualifiers all match the
// patient. An unknown patient attribute only matches unqualified ranges. Ties keep
// table order.
func (b *Base) LookupDosingRange(drug string, age domain.AgeBand, renal, hepatic domain.OrganFunction) (domain.DosingRange, bool) {
	for _, d := range b.candidates(drug) {
		var (
			best  domain.DosingRange
			found bool
		)
		for _, r := range b.dosing[d] {
			if r.AgeBand != domain.AgeAny && r.AgeBand != age {
				continue
			}
			if r.Renal != domain.OrganUnknown && r.Renal != renal {
				continue
			}
			if r.Hepatic != domain.OrganUnknown && r.Hepatic != hepatic {
				continue
			}
			if !found || r.Specificity() > best.Specificity() {
				best, found = r, true
			}
		}
		if found {
			best.Drug = key(drug)
			return best, true
		}
	}
	return domain.DosingRange{}, false
}

func key(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
