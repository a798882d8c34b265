package features

// IDColumn is the canonical applicant identifier column.
const IDColumn = "Amcas_ID"

// TargetColumn is the reviewer score present in historical exports only.
const TargetColumn = "Application_Review_Score"

// MissingRubricValue is imputed for unscored rubric dimensions (midpoint of the 1-4 scale).
const MissingRubricValue = 2.5

// idKey matches every export spelling of the ID column once normalized.
const idKey = "amcas_id"

// NumericFeatures are continuous structured inputs.
var NumericFeatures = []string{
	"Exp_Hour_Total",
	"Exp_Hour_Research",
	"Exp_Hour_Volunteer_Med",
	"Exp_Hour_Volunteer_Non_Med",
	"Exp_Hour_Employ_Med",
	"Exp_Hour_Shadowing",
	"Comm_Service_Total_Hours",
	"HealthCare_Total_Hours",
	"Num_Languages",
	"Parent_Max_Education_Ordinal",
	"Num_Dependents",
}

// BinaryFeatures are 0/1 structured inputs.
var BinaryFeatures = []string{
	"First_Generation_Ind",
	"Disadvantaged_Ind",
	"SES_Value",
	"Pell_Grant",
	"Fee_Assistance_Program",
	"Military_Service",
	"Childhood_Med_Underserved",
	"Paid_Employment_BF_18",
	"Contribution_to_Family",
	"Employed_Undergrad",
}

// EngineeredFeatures are composites derived from structured inputs.
var EngineeredFeatures = []string{
	"Total_Volunteer_Hours",
	"Community_Engaged_Ratio",
	"Clinical_Total_Hours",
	"Direct_Care_Ratio",
	"Adversity_Count",
	"Grit_Index",
	"Experience_Diversity",
}

// ExperienceFlags are derived from the experiences file during ingest.
var ExperienceFlags = []string{
	"has_direct_patient_care",
	"has_volunteering",
	"has_community_service",
	"has_shadowing",
	"has_clinical_experience",
	"has_leadership",
	"has_research",
	"has_military_service",
	"has_honors",
}

// RubricDimensions are the curated externally scored qualitative features.
var RubricDimensions = []string{
	"mission_alignment_service_orientation",
	"adversity_resilience",
	"motivation_depth",
	"community_service_depth_and_quality",
	"direct_patient_care_depth_and_quality",
	"leadership_depth_and_quality",
	"adversity_response_quality",
}

var adversityColumns = []string{
	"First_Generation_Ind",
	"Disadvantaged_Ind",
	"SES_Value",
	"Pell_Grant",
	"Fee_Assistance_Program",
}

var gritExtraColumns = []string{
	"Paid_Employment_BF_18",
	"Contribution_to_Family",
	"Childhood_Med_Underserved",
}

var binaryAliases = map[string][]string{
	"Disadvantaged_Ind": {"Disadvantanged_Ind", "Disadvantaged_Ind"},
}

var schema = buildSchema()

func buildSchema() []string {
	out := make([]string, 0, len(NumericFeatures)+len(BinaryFeatures)+len(EngineeredFeatures)+len(ExperienceFlags)+len(RubricDimensions))
	out = append(out, NumericFeatures...)
	out = append(out, BinaryFeatures...)
	out = append(out, EngineeredFeatures...)
	out = append(out, ExperienceFlags...)
	out = append(out, RubricDimensions...)
	return out
}

// Schema returns the ordered feature names every Vector is aligned to.
func Schema() []string {
	out := make([]string, len(schema))
	copy(out, schema)
	return out
}

// Width is the number of values in a Vector.
func Width() int { return len(schema) }

// Index returns the position of name within Schema.
func Index(name string) (int, bool) {
	for i, candidate := range schema {
		if candidate == name {
			return i, true
		}
	}
	return -1, false
}

// IsRubricFeature reports whether name is one of the rubric dimensions.
func IsRubricFeature(name string) bool {
	for _, dim := range RubricDimensions {
		if dim == name {
			return true
		}
	}
	return false
}
