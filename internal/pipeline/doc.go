// Package pipeline runs the fixed scoring stages for one run: ingest, rubric
// scoring, cleaning, feature building, classification and tier assignment.
package pipeline
