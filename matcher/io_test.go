package matcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseInputRecordsCSV(t *testing.T) {
	path := writeFile(t, "notes.csv", "\ufeffencounter_id,patient_id,note_text,cpt_code,cpt_desc\n"+
		"1001,20001,Colonoscopy revealed polyps.,45378,\"Colonoscopy, diagnostic\"\n"+
		"1002,20002,Administered CPR successfully.,,\n"+
		"1003,20003,,,\n")

	records, err := ParseInputRecords(path, InputParseOptions{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, int64(1001), records[0].EncounterID)
	assert.Equal(t, int64(20001), records[0].PatientID)
	assert.Equal(t, "Colonoscopy revealed polyps.", records[0].NoteText)
	require.NotNil(t, records[0].Assigned)
	assert.Equal(t, "45378", records[0].Assigned.Code)
	assert.Equal(t, "Colonoscopy, diagnostic", records[0].Assigned.Description)

	assert.Nil(t, records[1].Assigned)

	assert.Equal(t, int64(1003), records[2].EncounterID)
	assert.Empty(t, records[2].NoteText)
}

func TestParseInputRecordsKeepsEmptyNotes(t *testing.T) {
	path := writeFile(t, "notes.csv", "encounter_id,patient_id,note_text,cpt_code,cpt_desc\n"+
		"1,10,Colonoscopy revealed polyps.,,\n"+
		"2,20,,45378,Colonoscopy\n"+
		",,,,\n"+
		"3,30,Administered CPR.,,\n")

	records, err := ParseInputRecords(path, InputParseOptions{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{records[0].EncounterID, records[1].EncounterID, records[2].EncounterID})

	assert.Empty(t, records[1].NoteText)
	require.NotNil(t, records[1].Assigned)
	assert.Equal(t, "45378", records[1].Assigned.Code)
}

func TestParseInputRecordsDescriptionWithoutCode(t *testing.T) {
	path := writeFile(t, "notes.csv", "encounter_id,note_text,cpt_code,cpt_desc\n1,CPR given,,Cardiopulmonary resuscitation\n")
	records, err := ParseInputRecords(path, InputParseOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Assigned)
}

func TestParseInputRecordsTSVWithExplicitColumns(t *testing.T) {
	path := writeFile(t, "notes.tsv", "visit\tsummary\n77\tBronchoscopy done\n")
	records, err := ParseInputRecords(path, InputParseOptions{EncounterIDColumn: "visit", NoteColumn: "#2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(77), records[0].EncounterID)
	assert.Equal(t, "Bronchoscopy done", records[0].NoteText)
}

func TestParseInputRecordsCustomCandidates(t *testing.T) {
	path := writeFile(t, "notes.csv", "enc,narrative\n5,Joint aspiration\n")
	records, err := ParseInputRecords(path, InputParseOptions{
		Candidates: ColumnCandidates{EncounterID: []string{"enc"}, Note: []string{"narrative"}},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(5), records[0].EncounterID)
	assert.Equal(t, "Joint aspiration", records[0].NoteText)
}

func TestParseInputRecordsHeaderless(t *testing.T) {
	path := writeFile(t, "notes.csv", "1001,20001,Colonoscopy revealed polyps.,45378,\"Colonoscopy, diagnostic\"\n")
	records, err := ParseInputRecords(path, InputParseOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1001), records[0].EncounterID)
	assert.Equal(t, "Colonoscopy revealed polyps.", records[0].NoteText)
	require.NotNil(t, records[0].Assigned)
}

func TestParseInputRecordsErrors(t *testing.T) {
	bad := writeFile(t, "notes.csv", "encounter_id,note_text\nabc,hello\n")
	_, err := ParseInputRecords(bad, InputParseOptions{})
	assert.ErrorContains(t, err, "line 2")

	noNote := writeFile(t, "notes.csv", "encounter_id,patient_id\n1,2\n")
	_, err = ParseInputRecords(noNote, InputParseOptions{})
	assert.Error(t, err)

	missingCol := writeFile(t, "notes.csv", "a,b\n1,2\n")
	_, err = ParseInputRecords(missingCol, InputParseOptions{NoteColumn: "narrative"})
	assert.Error(t, err)
}

func TestParseInputRecordsPlainText(t *testing.T) {
	path := writeFile(t, "notes.txt", "Colonoscopy revealed polyps.\n\nPatient rested.\n")
	records, err := ParseInputRecords(path, InputParseOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].EncounterID)
	assert.Equal(t, int64(2), records[1].EncounterID)
	assert.Equal(t, "Patient rested.", records[1].NoteText)
}

func TestReadInputFileMetadata(t *testing.T) {
	path := writeFile(t, "notes.csv", "Encounter_ID,Note_Text,CPT_Code\n1,x,y\n")
	meta, err := ReadInputFileMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Encounter_ID", "Note_Text", "CPT_Code"}, meta.Columns)
	assert.Equal(t, "Encounter_ID", meta.Suggested.EncounterIDColumn)
	assert.Equal(t, "Note_Text", meta.Suggested.NoteColumn)
	assert.Equal(t, "CPT_Code", meta.Suggested.CodeColumn)
	assert.Empty(t, meta.Suggested.PatientIDColumn)
}

func TestLoadCatalogFileJSON(t *testing.T) {
	path := writeFile(t, "catalog.json", `[
		{"code": "45378", "description": "Colonoscopy, diagnostic", "embedding": [0, 1]},
		{"code": "31622", "description": "Bronchoscopy, diagnostic", "embedding": [1, 0]}
	]`)
	cat, err := LoadCatalogFile(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())
	assert.Equal(t, 2, cat.Dim())
}

func TestLoadCatalogFileEmbedsMissingVectors(t *testing.T) {
	path := writeFile(t, "catalog.csv", "cpt_code,cpt_desc\n45378,\"Colonoscopy, diagnostic\"\n20610,\"Joint aspiration, major joint\"\n")
	cat, err := LoadCatalogFile(context.Background(), path, &keywordEmbedder{})
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())
	assert.Equal(t, float32(1), cat.At(0).Embedding[3])
	assert.Equal(t, float32(1), cat.At(1).Embedding[9])

	_, err = LoadCatalogFile(context.Background(), path, nil)
	assert.Error(t, err)

	failing := EmbedderFunc(func(context.Context, string) ([]float32, error) { return nil, errors.New("down") })
	_, err = LoadCatalogFile(context.Background(), path, failing)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestLoadCatalogFileRejectsMixedDimensions(t *testing.T) {
	path := writeFile(t, "catalog.json", `[
		{"code": "a", "description": "a", "embedding": [1, 2, 3, 4, 5]},
		{"code": "b", "description": "b", "embedding": [1, 2, 3, 4, 5, 6]}
	]`)
	_, err := LoadCatalogFile(context.Background(), path, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestWriteCatalogJSONRoundTrip(t *testing.T) {
	cat, err := EmbedCatalog(context.Background(), &keywordEmbedder{}, DefaultCatalogSeeds())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, WriteCatalogJSON(path, cat))

	loaded, err := LoadCatalogFile(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, cat.Entries(), loaded.Entries())
}

func sampleEnriched() []EnrichedRecord {
	entry := CatalogEntry{Code: "45378", Description: "Colonoscopy, diagnostic"}
	return []EnrichedRecord{
		{
			Record:  InputRecord{EncounterID: 1001, PatientID: 20001, NoteText: "Colonoscopy revealed polyps."},
			Phrases: []string{"Colonoscopy", "polyps"},
			Match:   MatchResult{QueryPhrase: "Colonoscopy", Matched: &entry, Position: 3, Distance: 0.125},
		},
		{
			Record: InputRecord{
				EncounterID: 1002, PatientID: 20002, NoteText: "n",
				Assigned: &AssignedCharge{Code: "99291", Description: "Critical care, first 30-74 minutes"},
			},
			Phrases: []string{"n"},
			Match:   MatchResult{QueryPhrase: "n", Matched: &entry, Position: 3},
		},
	}
}

func TestWriteEnrichedCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEnrichedCSV(&buf, sampleEnriched()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, EnrichedHeader, rows[0])
	assert.Equal(t, []string{
		"1001", "20001", "Colonoscopy revealed polyps.", "", "",
		"Colonoscopy | polyps", "45378", "Colonoscopy, diagnostic", "0.125000",
	}, rows[1])
	assert.Equal(t, "99291", rows[2][3])
}

func TestWriteEnrichedJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEnrichedJSONL(&buf, sampleEnriched()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Nil(t, first["cpt_code"])
	assert.Equal(t, "45378", first["suggested_cpt"])
	assert.Equal(t, []any{"Colonoscopy", "polyps"}, first["extracted_procedures"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "99291", second["cpt_code"])
}

func TestWriteFailuresCSV(t *testing.T) {
	var buf bytes.Buffer
	failures := []RecordFailure{{Position: 4, EncounterID: 1005, Stage: StageEmbed, Err: ErrEmbeddingUnavailable}}
	require.NoError(t, WriteFailuresCSV(&buf, failures))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"4", "1005", "embed", "embedding unavailable"}, rows[1])
}
