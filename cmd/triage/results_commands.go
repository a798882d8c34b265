package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"triage/internal/api"
	"triage/internal/archive"
	"triage/internal/classifier"
	"triage/internal/fileutil"
	"triage/internal/logging"
	"triage/internal/services"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect and export published result sets",
	}
	resultsCmd.AddCommand(newResultsShowCommand(ctx))
	resultsCmd.AddCommand(newResultsExportCommand(ctx))
	return resultsCmd
}

func newResultsShowCommand(ctx *commandContext) *cobra.Command {
	var cycle int
	var tier int
	var asJSON bool
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the live tier distribution for a cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON && asCSV {
				return errors.New("--json and --csv are mutually exclusive")
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			query := api.ResultQuery{Cycle: cycle, SkipAssignments: !asJSON && !asCSV}
			if cmd.Flags().Changed("tier") {
				query.Tier = &tier
			}
			resp, err := client.CurrentResult(cmd.Context(), query)
			if err != nil {
				if errors.Is(err, services.ErrNotFound) {
					if cycle > 0 {
						return fmt.Errorf("no published result for cycle %d", cycle)
					}
					return errors.New("no published result yet")
				}
				return err
			}
			switch {
			case asJSON:
				return writeJSON(cmd, resp)
			case asCSV:
				return writeAssignmentsCSV(cmd.OutOrStdout(), resp.Result.Assignments)
			}
			printResult(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 0, "Admissions cycle (defaults to the most recent live cycle)")
	cmd.Flags().IntVar(&tier, "tier", 0, "Only include assignments in this tier (0-3)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the result set, including assignments, as JSON")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "Output assignments as CSV")
	return cmd
}

func printResult(out io.Writer, resp *api.ResultResponse) {
	res := resp.Result
	fmt.Fprintf(out, "Cycle %d  run %s  model %s\n", res.CycleYear, res.RunID, res.ModelVersion)
	fmt.Fprintf(out, "Published %s  applicants %s\n", relativeTime(res.CompletedAt), formatCount(res.Applicants))
	rows := make([][]string, 0, len(res.Tiers))
	total := 0
	for _, t := range res.Tiers {
		total += t.Count
	}
	for _, t := range res.Tiers {
		rows = append(rows, []string{strconv.Itoa(t.Tier), t.Label, formatCount(t.Count), formatPercent(t.Count, total)})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Tier", "Label", "Applicants", "Share"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
		"", "Total", formatCount(total), "",
	))
	fmt.Fprintf(out, "Confidence: %s high, %s low\n", formatCount(res.HighConfidence), formatCount(res.LowConfidence))
	if res.DriftAdvisory {
		fmt.Fprintf(out, "Drift advisory: %s\n", strings.Join(res.DriftedFeatures, ", "))
	}
	if res.Output != "" {
		fmt.Fprintf(out, "Snapshot: %s\n", res.Output)
	}
	if len(resp.Cycles) > 1 {
		cycles := make([]string, 0, len(resp.Cycles))
		for _, c := range resp.Cycles {
			cycles = append(cycles, strconv.Itoa(c))
		}
		fmt.Fprintf(out, "Live cycles: %s\n", strings.Join(cycles, ", "))
	}
}

func writeAssignmentsCSV(out io.Writer, assignments []classifier.Assignment) error {
	w := csv.NewWriter(out)
	header := []string{"applicant_id", "tier", "tier_label", "confidence", "p_low", "score", "passed_gate", "rubric_missing", "degradations"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, a := range assignments {
		record := []string{
			a.ApplicantID,
			strconv.Itoa(a.Tier),
			a.TierLabel,
			string(a.Confidence),
			strconv.FormatFloat(a.PLow, 'f', 6, 64),
			strconv.FormatFloat(a.Score, 'f', 6, 64),
			strconv.FormatBool(a.PassedGate),
			strings.Join(a.RubricMissing, ";"),
			strings.Join(a.Degradations, ";"),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func newResultsExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <run-id> <destination>",
		Short: "Copy an archived result snapshot to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runID := strings.TrimSpace(args[0])
			dst := strings.TrimSpace(args[1])
			out := cmd.OutOrStdout()

			local := archive.NewFileArchive(cfg.ResultsDir())
			err = local.Export(runID, dst)
			if err == nil {
				fmt.Fprintf(out, "Exported %s to %s\n", runID, dst)
				return nil
			}
			if !errors.Is(err, services.ErrNotFound) || !cfg.Archive.Enabled {
				return err
			}

			// Fall back to the remote archive when the local copy was pruned.
			tiered, tierErr := archive.FromConfig(cmd.Context(), cfg, logging.NewNop())
			if tierErr != nil {
				return tierErr
			}
			snap, loadErr := tiered.Load(cmd.Context(), runID)
			if loadErr != nil {
				return loadErr
			}
			data, encErr := json.MarshalIndent(snap, "", "  ")
			if encErr != nil {
				return fmt.Errorf("encode snapshot: %w", encErr)
			}
			if err := fileutil.WriteAtomic(dst, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "Exported %s from %s to %s\n", runID, cfg.Archive.Bucket, dst)
			return nil
		},
	}
}
