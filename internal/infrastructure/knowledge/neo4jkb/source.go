// Package neo4jkb reads knowledge tables from a property graph:
//
//	(:Drug {name})-[:INTERACTS_WITH {severity, mechanism, clinical_effect, management, monitoring}]->(:Drug)
//	(:Drug)-[:CONTRAINDICATED_IN {type, severity, reason, alternatives, monitoring}]->(:Condition {name})
//	(:Drug)-[:HAS_DOSING]->(:DosingRange {age_band, renal, hepatic, min_daily, max_daily, unit, note, monitoring})
//	(:Drug)-[:MEMBER_OF]->(:DrugClass {name})
//
// Rules keyed by class are stored on (:DrugClass) nodes with the same relationships.
package neo4jkb

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/knowledge"
)

const (
	interactionsQuery = `
MATCH (a)-[r:INTERACTS_WITH]->(b)
WHERE (a:Drug OR a:DrugClass) AND (b:Drug OR b:DrugClass)
RETURN a.name AS drug_a, b.name AS drug_b, r.severity AS severity, r.mechanism AS mechanism,
       r.clinical_effect AS clinical_effect, r.management AS management, r.monitoring AS monitoring
ORDER BY drug_a, drug_b`

	contraindicationsQuery = `
MATCH (d)-[r:CONTRAINDICATED_IN]->(c:Condition)
WHERE d:Drug OR d:DrugClass
RETURN d.name AS drug, c.name AS condition, r.type AS type, r.severity AS severity,
       r.reason AS reason, r.alternatives AS alternatives, r.monitoring AS monitoring
ORDER BY drug, condition`

	dosingQuery = `
MATCH (d)-[:HAS_DOSING]->(r:DosingRange)
WHERE d:Drug OR d:DrugClass
RETURN d.name AS drug, r.age_band AS age_band, r.renal AS renal, r.hepatic AS hepatic,
       r.min_daily AS min_daily, r.max_daily AS max_daily, r.unit AS unit, r.note AS note,
       r.monitoring AS monitoring
ORDER BY drug`

	classesQuery = `
MATCH (d:Drug)-[:MEMBER_OF]->(c:DrugClass)
RETURN d.name AS drug, c.name AS class
ORDER BY drug`
)

type runner func(ctx context.Context, cypher string) ([]map[string]any, error)

type Source struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewSource(ctx context.Context, uri, user, password, database string) (*Source, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Source{driver: driver, database: database}, nil
}

func (s *Source) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Tables reads the whole rule graph in four read queries.
func (s *Source) Tables(ctx context.Context) (knowledge.Tables, error) {
	return loadTables(ctx, s.run)
}

func (s *Source) run(ctx context.Context, cypher string) ([]map[string]any, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, nil, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		rows = append(rows, record.AsMap())
	}
	return rows, nil
}

func loadTables(ctx context.Context, run runner) (knowledge.Tables, error) {
	var t knowledge.Tables

	rows, err := run(ctx, interactionsQuery)
	if err != nil {
		return knowledge.Tables{}, fmt.Errorf("query interactions: %w", err)
	}
	for _, row := range rows {
		t.Interactions = append(t.Interactions, interactionFromRow(row))
	}

	if rows, err = run(ctx, contraindicationsQuery); err != nil {
		return knowledge.Tables{}, fmt.Errorf("query contraindications: %w", err)
	}
	for _, row := range rows {
		t.Contraindications = append(t.Contraindications, contraindicationFromRow(row))
	}

	if rows, err = run(ctx, dosingQuery); err != nil {
		return knowledge.Tables{}, fmt.Errorf("query dosing: %w", err)
	}
	for _, row := range rows {
		t.Dosing = append(t.Dosing, dosingFromRow(row))
	}

	if rows, err = run(ctx, classesQuery); err != nil {
		return knowledge.Tables{}, fmt.Errorf("query drug classes: %w", err)
	}
	if len(rows) > 0 {
		t.DrugClasses = make(map[string]string, len(rows))
		for _, row := range rows {
			t.DrugClasses[str(row, "drug")] = str(row, "class")
		}
	}
	return t, nil
}

func interactionFromRow(row map[string]any) domain.InteractionRule {
	return domain.InteractionRule{
		DrugA:          str(row, "drug_a"),
		DrugB:          str(row, "drug_b"),
		Severity:       domain.Severity(strings.ToLower(str(row, "severity"))),
		Mechanism:      str(row, "mechanism"),
		ClinicalEffect: str(row, "clinical_effect"),
		Management:     str(row, "management"),
		Monitoring:     list(row, "monitoring"),
	}
}

func contraindicationFromRow(row map[string]any) domain.ContraindicationRule {
	return domain.ContraindicationRule{
		Drug:         str(row, "drug"),
		Condition:    str(row, "condition"),
		Type:         domain.ContraindicationType(strings.ToLower(str(row, "type"))),
		Severity:     domain.Severity(strings.ToLower(str(row, "severity"))),
		Reason:       str(row, "reason"),
		Alternatives: list(row, "alternatives"),
		Monitoring:   list(row, "monitoring"),
	}
}

func dosingFromRow(row map[string]any) domain.DosingRange {
	return domain.DosingRange{
		Drug:       str(row, "drug"),
		AgeBand:    domain.AgeBand(strings.ToLower(str(row, "age_band"))),
		Renal:      domain.OrganFunction(strings.ToLower(str(row, "renal"))),
		Hepatic:    domain.OrganFunction(strings.ToLower(str(row, "hepatic"))),
		MinDaily:   num(row, "min_daily"),
		MaxDaily:   num(row, "max_daily"),
		Unit:       str(row, "unit"),
		Note:       str(row, "note"),
		Monitoring: list(row, "monitoring"),
	}
}

// Graph properties come back as nil when unset, int64 or float64 for numbers and
// []any for lists.

func str(row map[string]any, key string) string {
	if s, ok := row[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func num(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func list(row map[string]any, key string) []string {
	switch v := row[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
