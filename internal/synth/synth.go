// Package synth generates synthetic encounters for exercising the matcher.
package synth

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"

	"yashubustudio/cptmatch/matcher"
)

const (
	minEncounterID = 1000
	maxEncounterID = 9999
	minPatientID   = 10000
	maxPatientID   = 99999

	// DefaultCount is the number of records generated when Options.Count is zero.
	DefaultCount = 100
	// DefaultMissingRate is the share of records left without an assigned code.
	DefaultMissingRate = 0.3
)

// ProcedureSentences are appended to the filler text of each note.
var ProcedureSentences = []string{
	"Laparoscopic cholecystectomy performed.",
	"Colonoscopy revealed polyps.",
	"Patient underwent bronchoscopy for lung biopsy.",
	"Administered CPR successfully.",
	"Cataract extraction with intraocular lens placement.",
	"Epidural steroid injection performed.",
	"Breast reduction surgery performed.",
	"Joint aspiration for synovial fluid analysis.",
	"Intraoperative cholangiography done during surgery.",
	"Critical care provided for 1 hour.",
}

var fillerWords = []string{
	"patient", "reports", "mild", "discomfort", "since", "yesterday", "vitals", "stable",
	"history", "reviewed", "family", "present", "tolerated", "well", "plan", "discussed",
	"follow", "up", "scheduled", "no", "acute", "distress", "noted", "consent", "obtained",
	"labs", "pending", "afebrile", "ambulating", "independently", "education", "provided",
}

// Options controls generation.
type Options struct {
	Count int
	Seed  uint64
	// MissingRate is the probability that a record has no assigned code.
	// Negative values mean zero; zero selects DefaultMissingRate.
	MissingRate float64
	Catalog     []matcher.CatalogSeed
}

// Generate returns Count records with unique encounter and patient ids.
// The same Options always produce the same records.
func Generate(opts Options) ([]matcher.InputRecord, error) {
	count := opts.Count
	if count == 0 {
		count = DefaultCount
	}
	if count < 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	if limit := maxEncounterID - minEncounterID + 1; count > limit {
		return nil, fmt.Errorf("count %d exceeds the %d available encounter ids", count, limit)
	}
	missing := opts.MissingRate
	switch {
	case missing == 0:
		missing = DefaultMissingRate
	case missing < 0:
		missing = 0
	}
	catalog := opts.Catalog
	if len(catalog) == 0 {
		catalog = matcher.DefaultCatalogSeeds()
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	encounters := uniqueInts(rng, count, minEncounterID, maxEncounterID)
	patients := uniqueInts(rng, count, minPatientID, maxPatientID)

	records := make([]matcher.InputRecord, count)
	for i := range records {
		note := sentence(rng) + " " + ProcedureSentences[rng.IntN(len(ProcedureSentences))]
		rec := matcher.InputRecord{
			EncounterID: encounters[i],
			PatientID:   patients[i],
			NoteText:    note,
		}
		if rng.Float64() >= missing {
			seed := catalog[rng.IntN(len(catalog))]
			rec.Assigned = &matcher.AssignedCharge{Code: seed.Code, Description: seed.Description}
		}
		records[i] = rec
	}
	return records, nil
}

func uniqueInts(rng *rand.Rand, n, lo, hi int) []int64 {
	seen := make(map[int]struct{}, n)
	out := make([]int64, 0, n)
	for len(out) < n {
		v := lo + rng.IntN(hi-lo+1)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, int64(v))
	}
	return out
}

func sentence(rng *rand.Rand) string {
	n := 4 + rng.IntN(5)
	words := make([]string, n)
	for i := range words {
		words[i] = fillerWords[rng.IntN(len(fillerWords))]
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ") + "."
}

// Header is the column layout written by WriteCSV.
var Header = []string{"encounter_id", "patient_id", "note_text", "cpt_code", "cpt_desc"}

// WriteCSV writes records in the layout read by matcher.ParseInputRecords.
// Records without an assigned code get empty code and description cells.
func WriteCSV(w io.Writer, records []matcher.InputRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		var code, desc string
		if r.Assigned != nil {
			code, desc = r.Assigned.Code, r.Assigned.Description
		}
		row := []string{
			strconv.FormatInt(r.EncounterID, 10),
			strconv.FormatInt(r.PatientID, 10),
			r.NoteText,
			code,
			desc,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
