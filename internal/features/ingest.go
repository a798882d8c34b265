package features

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"triage/internal/logging"
	"triage/internal/services"
)

// Degradation codes attached to a dataset when optional inputs are missing.
const (
	DegradeMissingFile      = "missing_optional_file"
	DegradeMissingTarget    = "missing_target_column"
	DegradeLowGPACoverage   = "gpa_trend_low_coverage"
	DegradeUnrecognizedFile = "unrecognized_file"
	DegradeRubricUnscored   = "rubric_unscored"
)

// gpaCoverageFloor is the GPA trend coverage below which the cycle is flagged.
const gpaCoverageFloor = 0.5

// Degradation records a non-fatal input gap.
type Degradation struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Record is one applicant after joining the auxiliary files.
type Record struct {
	ID     string
	Fields map[string]string
}

// Value returns the trimmed field or "".
func (r Record) Value(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Dataset is the joined input for one cycle.
type Dataset struct {
	Cycle        int
	Dir          string
	Records      []Record
	Sources      map[FileKind]string
	Degradations []Degradation
	GPACoverage  float64
}

// Degrade appends a degradation marker.
func (d *Dataset) Degrade(code, detail string) {
	d.Degradations = append(d.Degradations, Degradation{Code: code, Detail: detail})
}

var experienceTypeFlags = []struct {
	expType string
	flag    string
}{
	{"Physician Shadowing/Clinical Observation", "has_shadowing"},
	{"Community Service/Volunteer - Medical/Clinical", "has_volunteering"},
	{"Community Service/Volunteer - Not Medical/Clinical", "has_community_service"},
	{"Paid Employment - Medical/Clinical", "has_clinical_experience"},
	{"Research/Lab", "has_research"},
	{"Leadership - Not Listed Elsewhere", "has_leadership"},
	{"Military Service", "has_military_service"},
}

var patientCareTypes = []string{
	"Physician Shadowing/Clinical Observation",
	"Paid Employment - Medical/Clinical",
	"Community Service/Volunteer - Medical/Clinical",
}

var honorsKeywords = []string{"honor", "honours", "dean's list", "cum laude", "phi beta kappa", "award"}

const unknownParentEducation = 2

var doctorates = []string{
	"doctorate of medicine (md)",
	"doctor of philosophy (phd)",
	"doctor of jurisprudence",
	"md/phd",
	"doctor of pharmacy",
	"other doctorate degree",
	"doctor of dental science(dds,dmd)",
	"doctor of veterinary medicine",
	"doctor of chiropractic",
	"doctor of science",
	"doctor of education",
	"doctor of osteopathic medicine/osteopathy(do)",
	"doctor of optometry",
	"doctor of podiatric medicine/podiatry",
}

func parentEducationLevel(label string) float64 {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "less than high school":
		return 0
	case "high school graduate (high school diploma or equivalent)":
		return 1
	case "some college, but no degree", "don't know":
		return 2
	case "associates degree (as,an,etc.)":
		return 3
	case "bachelor degree (ba,bs,etc)":
		return 4
	case "some graduate,but no degree", "masters degree":
		return 5
	}
	for _, d := range doctorates {
		if label == d {
			return 6
		}
	}
	return unknownParentEducation
}

// EssayColumns are the secondary application prompts forwarded to the rubric scorer.
var EssayColumns = []string{
	"1_-_Personal_Attributes_/_Life_Experiences",
	"2_-_Challenging_Situation",
	"3_-_Reflect_Experience",
	"4_-_Hope_to_Gain",
	"6_-_Direct_Care_Experience",
	"7_-_COVID_Impact",
}

// PersonalStatementColumn carries the personal statement text.
const PersonalStatementColumn = "personal_statement"

// ExperienceTextColumn carries concatenated experience descriptions for rubric scoring.
const ExperienceTextColumn = "experience_text"

// LoadCycle reads every CSV under dir, detects file kinds, and joins them into
// one record per applicant. Only the applicants file is required; other gaps
// become degradations.
func LoadCycle(ctx context.Context, dir string, cycle int, logger *slog.Logger) (*Dataset, error) {
	logger = logging.NewComponentLogger(logger, "ingest")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "ingest", "read cycle dir", dir, err)
	}

	tables := make(map[FileKind]*Table)
	ds := &Dataset{Cycle: cycle, Dir: dir, Sources: make(map[FileKind]string)}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		table, err := ReadTable(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "ingest", "read "+name, "", err)
		}
		if table.Kind == KindUnknown {
			ds.Degrade(DegradeUnrecognizedFile, name)
			logging.WarnWithContext(logger, "file type not recognized; skipped", "ingest_unrecognized_file",
				logging.String("file", name),
				logging.Hint("rename to the export name or check its header row"),
				logging.Impact("file contents ignored for this run"),
			)
			continue
		}
		if _, dup := tables[table.Kind]; dup {
			logger.Debug("duplicate file kind; keeping first", logging.String("file", name), logging.String("kind", table.Kind.String()))
			continue
		}
		tables[table.Kind] = table
		ds.Sources[table.Kind] = path
		logger.Debug("file detected",
			logging.String("file", name),
			logging.String("kind", table.Kind.String()),
			logging.Int("rows", len(table.Rows)),
		)
	}

	applicants, ok := tables[KindApplicants]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "ingest", "applicants", "applicants file not found in "+dir, fs.ErrNotExist)
	}
	if !applicants.HasColumn(IDColumn) {
		return nil, services.Wrap(services.ErrMissingColumn, "ingest", "applicants", "Amcas_ID column not found", nil)
	}
	for _, kind := range OptionalKinds {
		if _, ok := tables[kind]; !ok {
			ds.Degrade(DegradeMissingFile, kind.String())
		}
	}
	if _, ok := applicants.FindColumn(TargetColumn); !ok {
		ds.Degrade(DegradeMissingTarget, TargetColumn)
	}

	index := make(map[string]int, len(applicants.Rows))
	for _, row := range applicants.Rows {
		id := row[IDColumn]
		if id == "" {
			continue
		}
		if _, dup := index[id]; dup {
			continue
		}
		fields := make(map[string]string, len(row)+16)
		for k, v := range row {
			fields[k] = v
		}
		index[id] = len(ds.Records)
		ds.Records = append(ds.Records, Record{ID: id, Fields: fields})
	}

	join := func(values map[string]map[string]string) {
		for id, cols := range values {
			pos, ok := index[id]
			if !ok {
				continue
			}
			for k, v := range cols {
				if _, exists := ds.Records[pos].Fields[k]; !exists || ds.Records[pos].Fields[k] == "" {
					ds.Records[pos].Fields[k] = v
				}
			}
		}
	}

	if t, ok := tables[KindLanguage]; ok {
		join(aggregateLanguages(t))
	}
	if t, ok := tables[KindParents]; ok {
		join(aggregateParents(t, logger))
	}
	if t, ok := tables[KindGPATrend]; ok {
		trend := aggregateGPATrend(t)
		join(trend)
		if len(ds.Records) > 0 {
			covered := 0
			for _, rec := range ds.Records {
				if _, ok := trend[rec.ID]; ok {
					covered++
				}
			}
			ds.GPACoverage = float64(covered) / float64(len(ds.Records))
		}
	}
	if _, ok := tables[KindGPATrend]; ok && ds.GPACoverage < gpaCoverageFloor {
		ds.Degrade(DegradeLowGPACoverage, strconv.FormatFloat(ds.GPACoverage, 'f', 2, 64))
	}
	if t, ok := tables[KindExperiences]; ok {
		join(deriveExperienceFlags(t))
	}
	if t, ok := tables[KindPersonalStatement]; ok {
		join(pickColumns(t, PersonalStatementColumn))
	}
	if t, ok := tables[KindSecondaryApplication]; ok {
		join(secondaryFields(t))
	}

	for i := range ds.Records {
		fields := ds.Records[i].Fields
		if _, ok := fields["Childhood_Med_Underserved"]; !ok {
			if raw, ok := fields["Childhood_Med_Underserved_Self_Reported"]; ok {
				fields["Childhood_Med_Underserved"] = yesNo(raw, "0")
			}
		}
	}

	logger.Info("cycle loaded",
		logging.Cycle(cycle),
		logging.Int("applicants", len(ds.Records)),
		logging.Int("files", len(ds.Sources)),
		logging.Int("degradations", len(ds.Degradations)),
	)
	return ds, nil
}

func aggregateLanguages(t *Table) map[string]map[string]string {
	counts := make(map[string]int)
	for _, row := range t.Rows {
		if id := row[IDColumn]; id != "" {
			counts[id]++
		}
	}
	out := make(map[string]map[string]string, len(counts))
	for id, n := range counts {
		out[id] = map[string]string{"Num_Languages": strconv.Itoa(n)}
	}
	return out
}

func aggregateParents(t *Table, logger *slog.Logger) map[string]map[string]string {
	col, ok := t.FindColumn("Edu_Level", "Parent_Education_Level", "Parent_Education")
	if !ok {
		logger.Warn("parents file has no education column",
			logging.EventType("ingest_parents_column_missing"),
			logging.Impact("parent education defaults to 0"),
			logging.Hint("expected Edu_Level"),
		)
		return nil
	}
	best := make(map[string]float64)
	for _, row := range t.Rows {
		id := row[IDColumn]
		if id == "" {
			continue
		}
		level := parentEducationLevel(row[col])
		if prev, seen := best[id]; !seen || level > prev {
			best[id] = level
		}
	}
	out := make(map[string]map[string]string, len(best))
	for id, level := range best {
		out[id] = map[string]string{"Parent_Max_Education_Ordinal": strconv.FormatFloat(level, 'f', -1, 64)}
	}
	return out
}

var gpaTrendOrdinal = map[string]string{"downward": "0", "stable": "1", "upward": "2"}

func aggregateGPATrend(t *Table) map[string]map[string]string {
	out := make(map[string]map[string]string)
	if t.HasColumn("Total_GPA_Trend") {
		for _, row := range t.Rows {
			id := row[IDColumn]
			value := row["Total_GPA_Trend"]
			if id == "" || value == "" {
				continue
			}
			if _, seen := out[id]; !seen {
				out[id] = map[string]string{"GPA_Trend_Ordinal": value}
			}
		}
		return out
	}
	col, ok := t.FindColumn("GPA_Trend", "Gpa_Trend")
	if !ok {
		return out
	}
	for _, row := range t.Rows {
		id := row[IDColumn]
		if id == "" || row[col] == "" {
			continue
		}
		ordinal, ok := gpaTrendOrdinal[strings.ToLower(row[col])]
		if !ok {
			ordinal = "1"
		}
		if _, seen := out[id]; !seen {
			out[id] = map[string]string{"GPA_Trend_Ordinal": ordinal}
		}
	}
	return out
}

func deriveExperienceFlags(t *Table) map[string]map[string]string {
	typeCol, ok := t.FindColumn("Exp_Type", "exp_type")
	if !ok {
		return nil
	}
	types := make(map[string][]string)
	texts := make(map[string][]string)
	for _, row := range t.Rows {
		id := row[IDColumn]
		if id == "" {
			continue
		}
		if v := row[typeCol]; v != "" {
			types[id] = append(types[id], strings.ToLower(v))
		} else if _, seen := types[id]; !seen {
			types[id] = nil
		}
		for _, col := range []string{"Exp_Name", "Exp_Desc"} {
			if v := row[col]; v != "" {
				texts[id] = append(texts[id], v)
			}
		}
	}

	out := make(map[string]map[string]string, len(types))
	for id, list := range types {
		flags := make(map[string]string, len(ExperienceFlags)+1)
		for _, mapping := range experienceTypeFlags {
			flags[mapping.flag] = boolString(containsAny(list, strings.ToLower(mapping.expType)))
		}
		patient := false
		for _, pct := range patientCareTypes {
			if containsAny(list, strings.ToLower(pct)) {
				patient = true
				break
			}
		}
		flags["has_direct_patient_care"] = boolString(patient)
		joined := strings.ToLower(strings.Join(texts[id], " "))
		honors := false
		for _, kw := range honorsKeywords {
			if strings.Contains(joined, kw) {
				honors = true
				break
			}
		}
		flags["has_honors"] = boolString(honors)
		if len(texts[id]) > 0 {
			flags[ExperienceTextColumn] = strings.Join(texts[id], "\n")
		}
		out[id] = flags
	}
	return out
}

func secondaryFields(t *Table) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, row := range t.Rows {
		id := row[IDColumn]
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		fields := make(map[string]string)
		for _, col := range EssayColumns {
			if v, ok := row[col]; ok && v != "" {
				fields[col] = v
			}
		}
		if v, ok := row["5_-_Employed_Undergrad"]; ok {
			fields["Employed_Undergrad"] = yesNo(v, "0")
		}
		out[id] = fields
	}
	return out
}

func pickColumns(t *Table, cols ...string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, row := range t.Rows {
		id := row[IDColumn]
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		fields := make(map[string]string, len(cols))
		for _, col := range cols {
			if v := row[col]; v != "" {
				fields[col] = v
			}
		}
		out[id] = fields
	}
	return out
}

func containsAny(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(v, needle) {
			return true
		}
	}
	return false
}

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// yesNo maps Yes/Y/No/N to 1/0 and returns fallback otherwise.
func yesNo(value, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y":
		return "1"
	case "no", "n":
		return "0"
	default:
		return fallback
	}
}
