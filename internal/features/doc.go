// Package features turns a cycle's exported applicant files into fixed-schema
// feature vectors.
//
// LoadCycle detects each CSV's FileKind, joins the auxiliary files onto the
// applicants file, and records degradations instead of failing when optional
// inputs are missing. Clean applies the column clean-up rules, and Engine.Build
// combines cleaned records with rubric scores. Rubric dimensions scored 0 are
// treated as missing: the vector carries an explicit mask and the imputed
// midpoint, never a guessed interpretation.
package features
