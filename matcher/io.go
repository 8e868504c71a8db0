package matcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// InputParseOptions selects which columns map to record fields. Each column may be
// a header name or a 1-based "#N" index; empty fields are auto-detected.
type InputParseOptions struct {
	EncounterIDColumn string
	PatientIDColumn   string
	NoteColumn        string
	CodeColumn        string
	DescriptionColumn string
	// Candidates overrides the header names tried during auto-detection.
	Candidates ColumnCandidates
}

// InputFileMetadata provides header information and automatic column suggestions.
type InputFileMetadata struct {
	Columns   []string
	Suggested InputParseOptions
}

type inputColumns struct {
	EncounterID columnResult
	PatientID   columnResult
	Note        columnResult
	Code        columnResult
	Description columnResult
}

// ParseInputRecords reads encounters from a CSV, TSV or plain text file.
// Plain text files hold one note per line and are numbered from 1.
func ParseInputRecords(path string, opts InputParseOptions) ([]InputRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseDelimitedFile(path, ',', opts)
	case ".tsv":
		return parseDelimitedFile(path, '\t', opts)
	default:
		return parsePlainTextRecords(path)
	}
}

// ReadInputRecords parses delimited input from r.
func ReadInputRecords(r io.Reader, comma rune, opts InputParseOptions) ([]InputRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("empty file")
	}
	header := cleanRow(rows[0])
	cols, skipHeader, err := resolveInputColumns(header, opts)
	if err != nil {
		return nil, err
	}
	start := 0
	if skipHeader {
		start = 1
	}
	records := make([]InputRecord, 0, len(rows)-start)
	for i, row := range rows[start:] {
		line := i + start + 1
		if blankRow(row) {
			continue
		}
		// An empty note is still a record; the pipeline falls back to it as the query.
		rec := InputRecord{NoteText: cellAt(row, cols.Note.Index)}
		if rec.EncounterID, err = parseID(cellAt(row, cols.EncounterID.Index), int64(len(records)+1)); err != nil {
			return nil, fmt.Errorf("line %d: encounter id: %w", line, err)
		}
		if rec.PatientID, err = parseID(cellAt(row, cols.PatientID.Index), 0); err != nil {
			return nil, fmt.Errorf("line %d: patient id: %w", line, err)
		}
		if code := cellAt(row, cols.Code.Index); code != "" {
			rec.Assigned = &AssignedCharge{Code: code, Description: cellAt(row, cols.Description.Index)}
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseDelimitedFile(path string, comma rune, opts InputParseOptions) ([]InputRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	records, err := ReadInputRecords(f, comma, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func parsePlainTextRecords(path string) ([]InputRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text file: %w", err)
	}
	defer f.Close()
	var out []InputRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := cleanCell(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, InputRecord{EncounterID: int64(len(out) + 1), NoteText: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan text file: %w", err)
	}
	return out, nil
}

func resolveInputColumns(header []string, opts InputParseOptions) (inputColumns, bool, error) {
	var (
		res inputColumns
		err error
	)
	cands := opts.Candidates.withDefaults()
	if res.EncounterID, err = pickColumn(header, opts.EncounterIDColumn, cands.EncounterID); err != nil {
		return res, false, err
	}
	if res.PatientID, err = pickColumn(header, opts.PatientIDColumn, cands.PatientID); err != nil {
		return res, false, err
	}
	if res.Note, err = pickColumn(header, opts.NoteColumn, cands.Note); err != nil {
		return res, false, err
	}
	if res.Code, err = pickColumn(header, opts.CodeColumn, cands.Code); err != nil {
		return res, false, err
	}
	if res.Description, err = pickColumn(header, opts.DescriptionColumn, cands.Description); err != nil {
		return res, false, err
	}
	skipHeader := res.EncounterID.FromHeader || res.PatientID.FromHeader || res.Note.FromHeader ||
		res.Code.FromHeader || res.Description.FromHeader
	if skipHeader {
		if res.Note.Index < 0 {
			return res, false, errors.New("no note column found")
		}
		return res, true, nil
	}
	// Headerless: encounter_id, patient_id, note_text, cpt_code, cpt_desc.
	if res.Note.Index < 0 {
		if len(header) >= 3 {
			defaultIndex(&res.EncounterID, 0)
			defaultIndex(&res.PatientID, 1)
			res.Note.Index = 2
			defaultIndex(&res.Code, 3)
			defaultIndex(&res.Description, 4)
		} else {
			res.Note.Index = len(header) - 1
		}
	}
	return res, false, nil
}

func defaultIndex(c *columnResult, idx int) {
	if c.Index < 0 {
		c.Index = idx
	}
}

// ReadInputFileMetadata returns header information and automatic suggestions for structured files.
func ReadInputFileMetadata(path string) (InputFileMetadata, error) {
	meta := InputFileMetadata{}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".tsv" {
		return meta, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	if ext == ".tsv" {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	row, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return meta, nil
		}
		return meta, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	header := cleanRow(row)
	meta.Columns = header
	cols, _, err := resolveInputColumns(header, InputParseOptions{})
	if err == nil {
		meta.Suggested = InputParseOptions{
			EncounterIDColumn: headerName(header, cols.EncounterID.Index, cols.EncounterID.FromHeader),
			PatientIDColumn:   headerName(header, cols.PatientID.Index, cols.PatientID.FromHeader),
			NoteColumn:        headerName(header, cols.Note.Index, cols.Note.FromHeader),
			CodeColumn:        headerName(header, cols.Code.Index, cols.Code.FromHeader),
			DescriptionColumn: headerName(header, cols.Description.Index, cols.Description.FromHeader),
		}
	}
	return meta, nil
}

func cleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = cleanCell(cell)
	}
	return out
}

func blankRow(row []string) bool {
	for _, v := range row {
		if cleanCell(v) != "" {
			return false
		}
	}
	return true
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return cleanCell(row[idx])
}

func parseID(v string, fallback int64) (int64, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// LoadCatalogFile reads a catalog from JSON or CSV/TSV. Entries without an
// embedding are embedded from their description with embedder, which may be
// nil when every entry already carries a vector.
func LoadCatalogFile(ctx context.Context, path string, embedder Embedder) (*Catalog, error) {
	var (
		entries []CatalogEntry
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = readCatalogJSON(path)
	case ".csv":
		entries, err = readCatalogDelimited(path, ',')
	case ".tsv":
		entries, err = readCatalogDelimited(path, '\t')
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyCatalog)
	}
	for i := range entries {
		if len(entries[i].Embedding) > 0 {
			continue
		}
		if embedder == nil {
			return nil, fmt.Errorf("catalog entry %s has no embedding and no embedder is configured", entries[i].Code)
		}
		vec, err := embedder.EmbedText(ctx, entries[i].Description)
		if err != nil {
			return nil, fmt.Errorf("embed catalog entry %s: %w: %w", entries[i].Code, ErrEmbeddingUnavailable, err)
		}
		entries[i].Embedding = vec
	}
	return NewCatalog(entries)
}

func readCatalogJSON(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return entries, nil
}

func readCatalogDelimited(path string, comma rune) ([]CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := cleanRow(rows[0])
	cands := DefaultColumnCandidates()
	codeCol := findColumn(header, cands.Code)
	descCol := findColumn(header, cands.Description)
	start := 1
	if codeCol < 0 && descCol < 0 {
		codeCol, descCol, start = 0, 1, 0
	}
	if codeCol < 0 || descCol < 0 {
		return nil, fmt.Errorf("%s: catalog needs code and description columns", filepath.Base(path))
	}
	var entries []CatalogEntry
	for _, row := range rows[start:] {
		code := cellAt(row, codeCol)
		if code == "" {
			continue
		}
		entries = append(entries, CatalogEntry{Code: code, Description: cellAt(row, descCol)})
	}
	return entries, nil
}

// WriteCatalogJSON stores the catalog with its embeddings.
func WriteCatalogJSON(path string, c *Catalog) error {
	data, err := json.MarshalIndent(c.Entries(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename catalog: %w", err)
	}
	return nil
}

// EnrichedHeader is the column layout of WriteEnrichedCSV.
var EnrichedHeader = []string{
	"encounter_id", "patient_id", "note_text", "cpt_code", "cpt_desc",
	"extracted_procedures", "suggested_cpt", "suggested_desc", "distance",
}

// WriteEnrichedCSV writes one row per enriched record.
func WriteEnrichedCSV(w io.Writer, records []EnrichedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EnrichedHeader); err != nil {
		return err
	}
	for _, r := range records {
		var code, desc string
		if r.Record.Assigned != nil {
			code, desc = r.Record.Assigned.Code, r.Record.Assigned.Description
		}
		var sugCode, sugDesc, dist string
		if r.Match.HasMatch() {
			sugCode = r.Match.Matched.Code
			sugDesc = r.Match.Matched.Description
			dist = strconv.FormatFloat(r.Match.Distance, 'f', 6, 64)
		}
		row := []string{
			strconv.FormatInt(r.Record.EncounterID, 10),
			strconv.FormatInt(r.Record.PatientID, 10),
			r.Record.NoteText,
			code,
			desc,
			strings.Join(r.Phrases, " | "),
			sugCode,
			sugDesc,
			dist,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type enrichedJSON struct {
	EncounterID         int64    `json:"encounter_id"`
	PatientID           int64    `json:"patient_id"`
	NoteText            string   `json:"note_text"`
	CPTCode             *string  `json:"cpt_code"`
	CPTDesc             *string  `json:"cpt_desc"`
	ExtractedProcedures []string `json:"extracted_procedures"`
	QueryPhrase         string   `json:"query_phrase"`
	SuggestedCPT        string   `json:"suggested_cpt,omitempty"`
	SuggestedDesc       string   `json:"suggested_desc,omitempty"`
	Position            int      `json:"position"`
	Distance            float64  `json:"distance"`
}

// WriteEnrichedJSONL writes one JSON object per line.
func WriteEnrichedJSONL(w io.Writer, records []EnrichedRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		out := enrichedJSON{
			EncounterID:         r.Record.EncounterID,
			PatientID:           r.Record.PatientID,
			NoteText:            r.Record.NoteText,
			ExtractedProcedures: r.Phrases,
			QueryPhrase:         r.Match.QueryPhrase,
			Position:            r.Match.Position,
			Distance:            r.Match.Distance,
		}
		if r.Record.Assigned != nil {
			out.CPTCode = &r.Record.Assigned.Code
			out.CPTDesc = &r.Record.Assigned.Description
		}
		if r.Match.HasMatch() {
			out.SuggestedCPT = r.Match.Matched.Code
			out.SuggestedDesc = r.Match.Matched.Description
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

// WriteFailuresCSV writes the per-record failures of a batch.
func WriteFailuresCSV(w io.Writer, failures []RecordFailure) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"position", "encounter_id", "stage", "error"}); err != nil {
		return err
	}
	for _, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		row := []string{strconv.Itoa(f.Position), strconv.FormatInt(f.EncounterID, 10), f.Stage, msg}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
