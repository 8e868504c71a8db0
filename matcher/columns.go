package matcher

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnCandidates defines possible header names for auto-detecting CSV/TSV columns.
type ColumnCandidates struct {
	EncounterID []string `yaml:"encounterId,omitempty"`
	PatientID   []string `yaml:"patientId,omitempty"`
	Note        []string `yaml:"note,omitempty"`
	Code        []string `yaml:"code,omitempty"`
	Description []string `yaml:"description,omitempty"`
}

// DefaultColumnCandidates returns the built-in column detection candidates.
func DefaultColumnCandidates() ColumnCandidates {
	return ColumnCandidates{
		EncounterID: []string{"encounter_id", "encounter", "encounterid", "visit_id", "id"},
		PatientID:   []string{"patient_id", "patient", "patientid", "mrn"},
		Note:        []string{"note_text", "note", "text", "clinical_note", "body"},
		Code:        []string{"cpt_code", "cpt", "code"},
		Description: []string{"cpt_desc", "cpt_description", "description", "desc"},
	}
}

// withDefaults fills nil fields with the built-in candidates so callers can
// override only the parts they need.
func (c ColumnCandidates) withDefaults() ColumnCandidates {
	defaults := DefaultColumnCandidates()
	return ColumnCandidates{
		EncounterID: pickStrings(c.EncounterID, defaults.EncounterID),
		PatientID:   pickStrings(c.PatientID, defaults.PatientID),
		Note:        pickStrings(c.Note, defaults.Note),
		Code:        pickStrings(c.Code, defaults.Code),
		Description: pickStrings(c.Description, defaults.Description),
	}
}

func pickStrings(custom, fallback []string) []string {
	if custom == nil {
		return append([]string(nil), fallback...)
	}
	return append([]string(nil), custom...)
}

func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "\ufeff")
	return v
}

func findColumn(header []string, candidates []string) int {
	for _, cand := range candidates {
		for i, col := range header {
			if strings.EqualFold(col, cand) {
				return i
			}
		}
	}
	return -1
}

type columnResult struct {
	Index      int
	FromHeader bool
}

// pickColumn resolves an explicit column (header name or 1-based "#N") or
// falls back to the first matching candidate.
func pickColumn(header []string, explicit string, candidates []string) (columnResult, error) {
	res := columnResult{Index: -1}
	if strings.TrimSpace(explicit) != "" {
		idx, fromHeader, err := matchExplicitColumn(header, explicit)
		if err != nil {
			return res, err
		}
		res.Index = idx
		res.FromHeader = fromHeader
		return res, nil
	}
	if idx := findColumn(header, candidates); idx >= 0 {
		res.Index = idx
		res.FromHeader = true
	}
	return res, nil
}

func matchExplicitColumn(header []string, explicit string) (int, bool, error) {
	trimmed := strings.TrimSpace(explicit)
	for i, col := range header {
		if strings.EqualFold(col, trimmed) {
			return i, true, nil
		}
	}
	if strings.HasPrefix(trimmed, "#") {
		idx, err := parseColumnIndex(trimmed)
		if err != nil {
			return -1, false, err
		}
		if idx >= len(header) {
			return -1, false, fmt.Errorf("column index %s is out of range", trimmed)
		}
		return idx, false, nil
	}
	return -1, false, fmt.Errorf("column %q not found", explicit)
}

func parseColumnIndex(token string) (int, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(token, "#"))
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return -1, fmt.Errorf("invalid column index %q", token)
	}
	if idx <= 0 {
		return -1, fmt.Errorf("column indices are 1-based: %q", token)
	}
	return idx - 1, nil
}

func headerName(header []string, idx int, fromHeader bool) string {
	if idx < 0 {
		return ""
	}
	if fromHeader && idx < len(header) && header[idx] != "" {
		return header[idx]
	}
	return fmt.Sprintf("#%d", idx+1)
}
