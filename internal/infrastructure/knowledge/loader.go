package knowledge

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

//go:embed default_knowledge.yaml
var defaultKnowledgeYAML []byte

// DefaultTables returns the embedded cardiovascular rule set.
func DefaultTables() (Tables, error) {
	return LoadYAML(bytes.NewReader(defaultKnowledgeYAML))
}

func LoadYAML(r io.Reader) (Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Tables{}, fmt.Errorf("decode knowledge yaml: %w", err)
	}
	return t, nil
}

// LoadFile picks the decoder from the file extension (.yaml, .yml or .xlsx).
func LoadFile(path string) (Tables, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return Tables{}, fmt.Errorf("open knowledge file: %w", err)
		}
		defer f.Close()
		return LoadYAML(f)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return Tables{}, fmt.Errorf("unsupported knowledge file type: %s", path)
	}
}

// Workbook sheet names. Each sheet has a header row; columns are matched by name.
const (
	SheetInteractions      = "interactions"
	SheetContraindications = "contraindications"
	SheetDosing            = "dosing"
	SheetDrugClasses       = "drug_classes"
)

// LoadXLSX reads a knowledge workbook. Missing sheets are treated as empty tables.
// List cells (monitoring, alternatives) are separated by ';'.
func LoadXLSX(path string) (Tables, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("open knowledge workbook: %w", err)
	}
	defer f.Close()

	present := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		present[strings.ToLower(name)] = true
	}
	sheetRows := func(name string) ([]map[string]string, error) {
		if !present[name] {
			return nil, nil
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		return rowsToRecords(rows), nil
	}

	var t Tables
	records, err := sheetRows(SheetInteractions)
	if err != nil {
		return Tables{}, err
	}
	for _, rec := range records {
		t.Interactions = append(t.Interactions, interactionFromRecord(rec))
	}

	if records, err = sheetRows(SheetContraindications); err != nil {
		return Tables{}, err
	}
	for _, rec := range records {
		t.Contraindications = append(t.Contraindications, contraindicationFromRecord(rec))
	}

	if records, err = sheetRows(SheetDosing); err != nil {
		return Tables{}, err
	}
	for i, rec := range records {
		r, err := dosingFromRecord(rec)
		if err != nil {
			return Tables{}, fmt.Errorf("sheet %s row %d: %w", SheetDosing, i+2, err)
		}
		t.Dosing = append(t.Dosing, r)
	}

	if records, err = sheetRows(SheetDrugClasses); err != nil {
		return Tables{}, err
	}
	if len(records) > 0 {
		t.DrugClasses = make(map[string]string, len(records))
		for _, rec := range records {
			if rec["drug"] != "" {
				t.DrugClasses[rec["drug"]] = rec["class"]
			}
		}
	}
	return t, nil
}

func rowsToRecords(rows [][]string) []map[string]string {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		empty := true
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell != "" {
				empty = false
			}
			rec[header[i]] = cell
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out
}

func interactionFromRecord(rec map[string]string) domain.InteractionRule {
	return domain.InteractionRule{
		DrugA:          rec["drug_a"],
		DrugB:          rec["drug_b"],
		Severity:       domain.Severity(strings.ToLower(rec["severity"])),
		Mechanism:      rec["mechanism"],
		ClinicalEffect: rec["clinical_effect"],
		Management:     rec["management"],
		Monitoring:     splitList(rec["monitoring"]),
	}
}

func contraindicationFromRecord(rec map[string]string) domain.ContraindicationRule {
	return domain.ContraindicationRule{
		Drug:         rec["drug"],
		Condition:    rec["condition"],
		Type:         domain.ContraindicationType(strings.ToLower(rec["type"])),
		Severity:     domain.Severity(strings.ToLower(rec["severity"])),
		Reason:       rec["reason"],
		Alternatives: splitList(rec["alternatives"]),
		Monitoring:   splitList(rec["monitoring"]),
	}
}

func dosingFromRecord(rec map[string]string) (domain.DosingRange, error) {
	minDaily, err := parseFloat(rec["min_daily"])
	if err != nil {
		return domain.DosingRange{}, fmt.Errorf("min_daily: %w", err)
	}
	maxDaily, err := parseFloat(rec["max_daily"])
	if err != nil {
		return domain.DosingRange{}, fmt.Errorf("max_daily: %w", err)
	}
	return domain.DosingRange{
		Drug:       rec["drug"],
		AgeBand:    domain.AgeBand(strings.ToLower(rec["age_band"])),
		Renal:      domain.OrganFunction(strings.ToLower(rec["renal"])),
		Hepatic:    domain.OrganFunction(strings.ToLower(rec["hepatic"])),
		MinDaily:   minDaily,
		MaxDaily:   maxDaily,
		Unit:       rec["unit"],
		Note:       rec["note"],
		Monitoring: splitList(rec["monitoring"]),
	}, nil
}

func parseFloat(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
