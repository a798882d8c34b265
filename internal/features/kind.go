package features

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FileKind identifies one of the exported admissions data files.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindApplicants
	KindLanguage
	KindParents
	KindSiblings
	KindAcademicRecords
	KindExperiences
	KindSchools
	KindPersonalStatement
	KindSecondaryApplication
	KindMilitary
	KindGPATrend
)

var kindNames = map[FileKind]string{
	KindUnknown:              "unknown",
	KindApplicants:           "applicants",
	KindLanguage:             "language",
	KindParents:              "parents",
	KindSiblings:             "siblings",
	KindAcademicRecords:      "academic_records",
	KindExperiences:          "experiences",
	KindSchools:              "schools",
	KindPersonalStatement:    "personal_statement",
	KindSecondaryApplication: "secondary_application",
	KindMilitary:             "military",
	KindGPATrend:             "gpa_trend",
}

// exportNames are the file stems produced by the admissions export.
var exportNames = map[string]FileKind{
	"1. applicants":             KindApplicants,
	"2. language":               KindLanguage,
	"3. parents":                KindParents,
	"4. siblings":               KindSiblings,
	"5. academic records":       KindAcademicRecords,
	"6. experiences":            KindExperiences,
	"8. school":                 KindSchools,
	"9. personal statement":     KindPersonalStatement,
	"10. secondary application": KindSecondaryApplication,
	"11. military":              KindMilitary,
	"12. gpa trend":             KindGPATrend,
}

type signature struct {
	kind    FileKind
	columns []string
}

// Checked in order; first match wins.
var columnSignatures = []signature{
	{KindApplicants, []string{"application_review_score"}},
	{KindApplicants, []string{"amcas_id", "exp_hour_total"}},
	{KindExperiences, []string{"exp_type"}},
	{KindGPATrend, []string{"total_gpa_trend"}},
	{KindLanguage, []string{"language_desc"}},
	{KindParents, []string{"edu_level"}},
	{KindPersonalStatement, []string{"personal_statement"}},
	{KindSecondaryApplication, []string{"1_-_personal_attributes"}},
	{KindSchools, []string{"school_name"}},
	{KindMilitary, []string{"military_service_status"}},
	{KindSiblings, []string{"sibling"}},
	{KindAcademicRecords, []string{"gpa"}},
}

// RequiredKinds must be present for a cycle to be scored.
var RequiredKinds = []FileKind{KindApplicants}

// OptionalKinds are used when present and recorded as degradations when absent.
var OptionalKinds = []FileKind{
	KindLanguage,
	KindParents,
	KindExperiences,
	KindPersonalStatement,
	KindSecondaryApplication,
	KindGPATrend,
}

func (k FileKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// ParseFileKind maps a logical name back to its kind.
func ParseFileKind(value string) FileKind {
	value = strings.ToLower(strings.TrimSpace(value))
	for kind, name := range kindNames {
		if name == value {
			return kind
		}
	}
	return KindUnknown
}

// DetectKind classifies a file by its name, falling back to header signatures.
func DetectKind(filename string, columns []string) FileKind {
	if kind := kindFromFilename(filename); kind != KindUnknown {
		return kind
	}
	normalized := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		normalized[NormalizeHeader(col)] = struct{}{}
	}
	for _, sig := range columnSignatures {
		matched := true
		for _, col := range sig.columns {
			if _, ok := normalized[col]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return sig.kind
		}
	}
	return KindUnknown
}

func kindFromFilename(filename string) FileKind {
	base := filepath.Base(strings.TrimSpace(filename))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = foldCase(stem)
	if kind, ok := exportNames[stem]; ok {
		return kind
	}
	if kind := ParseFileKind(stem); kind != KindUnknown {
		return kind
	}
	return KindUnknown
}

// NormalizeHeader folds a header to the lower-case underscore form used for
// signature matching.
func NormalizeHeader(header string) string {
	return strings.ReplaceAll(foldCase(header), " ", "_")
}

// CanonicalColumn keeps case but applies the export's column clean-up:
// trimmed, spaces to underscores, parentheses removed.
func CanonicalColumn(header string) string {
	value := strings.TrimPrefix(norm.NFKC.String(header), "\ufeff")
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, " ", "_")
	value = strings.ReplaceAll(value, "(", "")
	value = strings.ReplaceAll(value, ")", "")
	return value
}

func foldCase(value string) string {
	value = strings.TrimPrefix(norm.NFKC.String(value), "\ufeff")
	return strings.TrimSpace(cases.Fold().String(value))
}
