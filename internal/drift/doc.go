// Package drift compares a run's feature vectors against the frozen training
// distributions stored in the model artifact. Results are advisory: they lower
// confidence and are surfaced in the run summary but never block scoring.
package drift
