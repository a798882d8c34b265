package features

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"triage/internal/logging"
	"triage/internal/services"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadCycleJoinsAuxiliaryFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1. Applicants.csv",
		"AMCAS ID,Exp Hour Total,Exp_Hour_Volunteer_Med,Disadvantanged_Ind,Age,Prev_Applied_Rush\n"+
			"101.0,1200,100,Yes,24,No\n"+
			"102,,50,No,,\n"+
			"103,300,0,No,30,\n")
	writeFile(t, dir, "2. Language.csv", "Amcas_ID,Language_Desc\n101,English\n101,Spanish\n102,English\n")
	writeFile(t, dir, "3. Parents.csv", "Amcas_ID,Edu_Level\n101,Masters Degree\n101,Less Than High School\n102,Something New\n")
	writeFile(t, dir, "6. Experiences.csv",
		"Amcas_ID,Exp_Type,Exp_Name,Exp_Desc\n"+
			"101,Research/Lab,Lab tech,Won a departmental award\n"+
			"101,Physician Shadowing/Clinical Observation,Shadowing,Clinic\n"+
			"102,Leadership - Not Listed Elsewhere,Club president,\n")
	writeFile(t, dir, "12. GPA Trend.csv", "Amcas_ID,Total_GPA_Trend\n101,1\n")
	writeFile(t, dir, "readme.txt", "ignored")

	ds, err := LoadCycle(context.Background(), dir, 2025, logging.NewNop())
	if err != nil {
		t.Fatalf("LoadCycle: %v", err)
	}
	if len(ds.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ds.Records))
	}
	first := ds.Records[0]
	if first.ID != "101" {
		t.Fatalf("expected normalized id 101, got %q", first.ID)
	}
	checks := map[string]string{
		"Num_Languages":                "2",
		"Parent_Max_Education_Ordinal": "5",
		"has_research":                 "1",
		"has_shadowing":                "1",
		"has_direct_patient_care":      "1",
		"has_honors":                   "1",
		"has_leadership":               "0",
		"GPA_Trend_Ordinal":            "1",
	}
	for col, want := range checks {
		if got := first.Value(col); got != want {
			t.Fatalf("%s = %q, want %q", col, got, want)
		}
	}
	if got := ds.Records[1].Value("Parent_Max_Education_Ordinal"); got != "2" {
		t.Fatalf("unknown education should map to 2, got %q", got)
	}
	if got := ds.Records[1].Value("has_leadership"); got != "1" {
		t.Fatalf("expected leadership flag for 102, got %q", got)
	}

	codes := map[string]bool{}
	for _, d := range ds.Degradations {
		codes[d.Code] = true
	}
	for _, want := range []string{DegradeMissingTarget, DegradeLowGPACoverage, DegradeMissingFile} {
		if !codes[want] {
			t.Fatalf("expected degradation %q in %+v", want, ds.Degradations)
		}
	}
	if ds.GPACoverage >= 0.5 {
		t.Fatalf("expected low gpa coverage, got %v", ds.GPACoverage)
	}

	report := Clean(ds, logging.NewNop())
	if got := ds.Records[0].Value("Disadvantaged_Ind"); got != "1" {
		t.Fatalf("expected renamed and binarized Disadvantaged_Ind, got %q", got)
	}
	if _, ok := ds.Records[0].Fields["Prev_Applied_Rush"]; ok {
		t.Fatal("expected dropped column removed")
	}
	if _, ok := ds.Records[0].Fields["GPA_Trend_Ordinal"]; ok {
		t.Fatal("expected GPA trend ordinal dropped")
	}
	if got := ds.Records[1].Value("Exp_Hour_Total"); got != "0" {
		t.Fatalf("expected blank hours imputed to 0, got %q", got)
	}
	if got := ds.Records[1].Value("Age"); got != "27" {
		t.Fatalf("expected age median 27, got %q", got)
	}
	if report.AgeImputed != 1 || report.Imputed["Exp_Hour_Total"] != 1 {
		t.Fatalf("unexpected clean report %+v", report)
	}
}

func TestLoadCycleMissingApplicants(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2. Language.csv", "Amcas_ID,Language_Desc\n101,English\n")

	_, err := LoadCycle(context.Background(), dir, 2025, logging.NewNop())
	if err == nil {
		t.Fatal("expected error when applicants file is missing")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	failure := services.Classify(err, "ingest")
	if failure.Kind != services.FailureMissingFile {
		t.Fatalf("unexpected failure kind %s", failure.Kind)
	}
}

func TestLoadCycleMissingIDColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1. Applicants.csv", "Name,Exp_Hour_Total\nA,10\n")

	_, err := LoadCycle(context.Background(), dir, 2025, logging.NewNop())
	if !errors.Is(err, services.ErrMissingColumn) {
		t.Fatalf("expected missing column error, got %v", err)
	}
	failure := services.Classify(err, "ingest")
	if failure.Message != "The Applicants file is missing the required 'AMCAS ID' column." {
		t.Fatalf("unexpected message %q", failure.Message)
	}
}
