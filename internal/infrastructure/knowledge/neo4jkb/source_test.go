package neo4jkb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/knowledge"
)

func fakeGraph(rowsByQuery map[string][]map[string]any) runner {
	return func(_ context.Context, cypher string) ([]map[string]any, error) {
		for marker, rows := range rowsByQuery {
			if strings.Contains(cypher, marker) {
				return rows, nil
			}
		}
		return nil, nil
	}
}

func TestLoadTablesConvertsGraphRows(t *testing.T) {
	run := fakeGraph(map[string][]map[string]any{
		"INTERACTS_WITH": {{
			"drug_a": "warfarin", "drug_b": "amiodarone", "severity": "HIGH",
			"mechanism": "CYP2C9 inhibition", "monitoring": []any{"INR", ""},
		}},
		"CONTRAINDICATED_IN": {{
			"drug": "warfarin", "condition": "pregnancy", "type": "absolute",
			"reason": "teratogenic", "alternatives": []any{"heparin"}, "severity": nil,
		}},
		"HAS_DOSING": {{
			"drug": "warfarin", "age_band": "elderly", "min_daily": int64(1), "max_daily": 5.0, "unit": "mg",
		}},
		"MEMBER_OF": {{"drug": "metoprolol", "class": "beta blocker"}},
	})

	tables, err := loadTables(context.Background(), run)
	require.NoError(t, err)

	require.Len(t, tables.Interactions, 1)
	assert.Equal(t, domain.SeverityHigh, tables.Interactions[0].Severity)
	assert.Equal(t, []string{"INR"}, tables.Interactions[0].Monitoring)

	require.Len(t, tables.Contraindications, 1)
	assert.Equal(t, domain.Severity(""), tables.Contraindications[0].Severity)
	assert.Equal(t, []string{"heparin"}, tables.Contraindications[0].Alternatives)

	require.Len(t, tables.Dosing, 1)
	assert.Equal(t, domain.AgeElderly, tables.Dosing[0].AgeBand)
	assert.InDelta(t, 1, tables.Dosing[0].MinDaily, 1e-9)
	assert.InDelta(t, 5, tables.Dosing[0].MaxDaily, 1e-9)

	assert.Equal(t, map[string]string{"metoprolol": "beta blocker"}, tables.DrugClasses)

	base, err := knowledge.New(tables)
	require.NoError(t, err)
	_, ok := base.LookupInteraction("amiodarone", "warfarin")
	assert.True(t, ok)
}

func TestLoadTablesPropagatesQueryErrors(t *testing.T) {
	failing := func(_ context.Context, cypher string) ([]map[string]any, error) {
		if strings.Contains(cypher, "HAS_DOSING") {
			return nil, errors.New("connection reset")
		}
		return nil, nil
	}

	_, err := loadTables(context.Background(), failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query dosing")
}
