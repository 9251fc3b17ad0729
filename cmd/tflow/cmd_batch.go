package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/validate"
)

func newBatchCmd(c *cli) *cobra.Command {
	var noAI bool
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Classify every non-empty line of FILE as one case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := readCases(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			counts := make(map[triage.Level]int, 4)
			unsaved, rejected := 0, 0
			for i, line := range cases {
				symptoms, err := validate.Symptoms(line)
				if err != nil {
					rejected++
					fmt.Fprintf(w, "%d/%d %-8s %s (%v)\n", i+1, len(cases), "rejected", preview(line, 50), err)
					continue
				}
				a := c.svc.Assess(cmd.Context(), triage.AssessRequest{
					Symptoms:    symptoms,
					PatientInfo: triage.PatientInfo{"batch_id": i + 1},
					UseAI:       !noAI,
				})
				counts[a.Record.Level]++
				if a.StorageErr != nil {
					unsaved++
				}
				fmt.Fprintf(w, "%d/%d %-8s %s\n", i+1, len(cases), a.Record.Level, preview(symptoms, 50))
			}

			fmt.Fprintf(w, "\nProcessed %d cases", len(cases)-rejected)
			for _, l := range triage.Levels() {
				fmt.Fprintf(w, ", %s %d", l, counts[l])
			}
			fmt.Fprintln(w)
			if rejected > 0 {
				fmt.Fprintf(w, "Rejected %d invalid lines\n", rejected)
			}
			if unsaved > 0 {
				fmt.Fprintf(w, "Warning: %d results could not be saved\n", unsaved)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "classify with keyword rules only")
	return cmd
}

func readCases(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is an operator-supplied argument
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return out, nil
}

// preview shortens s to at most n runes for one-line listings.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
