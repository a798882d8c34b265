package features

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"triage/internal/logging"
)

// DroppedColumns are removed during cleaning: mostly empty, free text, or
// derived from the reviewer outcome.
var DroppedColumns = []string{
	"Eo_Level",
	"Prev_Applied_Rush",
	"Hrdshp_Comments",
	"Prev_Matric_Desc",
	"Prev_Matric_Year",
	"Prev_Matric_School",
	"Prev_Matric_Degree",
	"Prev_Matric_Status",
	"Military_Service_Status",
	"Military_Discharge_Desc",
	"Felony_Desc",
	"GPA_Trend_Ordinal",
	"Total_GPA_Trend",
	"BCPM_GPA_Trend",
}

// CleanReport summarises what Clean changed.
type CleanReport struct {
	Dropped    []string       `json:"dropped"`
	Renamed    []string       `json:"renamed,omitempty"`
	Imputed    map[string]int `json:"imputed,omitempty"`
	Binarized  []string       `json:"binarized,omitempty"`
	AgeMedian  float64        `json:"age_median,omitempty"`
	AgeImputed int            `json:"age_imputed,omitempty"`
}

// Clean normalises the joined records in place.
func Clean(ds *Dataset, logger *slog.Logger) CleanReport {
	logger = logging.NewComponentLogger(logger, "clean")
	report := CleanReport{Imputed: make(map[string]int)}
	if ds == nil || len(ds.Records) == 0 {
		return report
	}

	columns := columnSet(ds.Records)

	for _, col := range DroppedColumns {
		if _, ok := columns[col]; !ok {
			continue
		}
		for i := range ds.Records {
			delete(ds.Records[i].Fields, col)
		}
		delete(columns, col)
		report.Dropped = append(report.Dropped, col)
	}

	if _, typo := columns["Disadvantanged_Ind"]; typo {
		if _, fixed := columns["Disadvantaged_Ind"]; !fixed {
			for i := range ds.Records {
				fields := ds.Records[i].Fields
				if v, ok := fields["Disadvantanged_Ind"]; ok {
					fields["Disadvantaged_Ind"] = v
					delete(fields, "Disadvantanged_Ind")
				}
			}
			delete(columns, "Disadvantanged_Ind")
			columns["Disadvantaged_Ind"] = struct{}{}
			report.Renamed = append(report.Renamed, "Disadvantanged_Ind->Disadvantaged_Ind")
		}
	}

	names := make([]string, 0, len(columns))
	for col := range columns {
		names = append(names, col)
	}
	sort.Strings(names)

	for _, col := range names {
		if !zeroFillColumn(col) {
			continue
		}
		filled := 0
		for i := range ds.Records {
			fields := ds.Records[i].Fields
			if _, err := strconv.ParseFloat(fields[col], 64); err != nil {
				fields[col] = "0"
				filled++
			}
		}
		if filled > 0 {
			report.Imputed[col] = filled
		}
	}

	for _, col := range names {
		if col == IDColumn || !isYesNoColumn(ds.Records, col) {
			continue
		}
		for i := range ds.Records {
			fields := ds.Records[i].Fields
			if v, ok := fields[col]; ok && v != "" {
				fields[col] = yesNo(v, v)
			}
		}
		report.Binarized = append(report.Binarized, col)
	}

	if _, ok := columns["Age"]; ok {
		ages := make([]float64, 0, len(ds.Records))
		for _, rec := range ds.Records {
			if v, err := strconv.ParseFloat(rec.Fields["Age"], 64); err == nil {
				ages = append(ages, v)
			}
		}
		if len(ages) > 0 && len(ages) < len(ds.Records) {
			report.AgeMedian = median(ages)
			fill := strconv.FormatFloat(report.AgeMedian, 'f', -1, 64)
			for i := range ds.Records {
				if _, err := strconv.ParseFloat(ds.Records[i].Fields["Age"], 64); err != nil {
					ds.Records[i].Fields["Age"] = fill
					report.AgeImputed++
				}
			}
		}
	}

	logger.Info("dataset cleaned",
		logging.Int("dropped", len(report.Dropped)),
		logging.Int("imputed_columns", len(report.Imputed)),
		logging.Int("binarized", len(report.Binarized)),
		logging.Int("age_imputed", report.AgeImputed),
	)
	return report
}

func columnSet(records []Record) map[string]struct{} {
	out := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec.Fields {
			out[k] = struct{}{}
		}
	}
	return out
}

// zeroFillColumn matches experience hour and financial percentage columns.
func zeroFillColumn(col string) bool {
	return strings.Contains(col, "Hour") || strings.Contains(col, "Pct") || strings.Contains(col, "Percent")
}

func isYesNoColumn(records []Record, col string) bool {
	seen := false
	for _, rec := range records {
		v := strings.ToLower(strings.TrimSpace(rec.Fields[col]))
		if v == "" {
			continue
		}
		switch v {
		case "yes", "no", "y", "n":
			seen = true
		default:
			return false
		}
	}
	return seen
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return stat.Mean(sorted[n/2-1:n/2+1], nil)
}
