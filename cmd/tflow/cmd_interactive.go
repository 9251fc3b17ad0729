package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/validate"
)

func newInteractiveCmd(c *cli) *cobra.Command {
	var noAI bool
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Triage cases typed at a prompt until quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			sc := bufio.NewScanner(cmd.InOrStdin())

			prompt := func(label string) (string, bool) {
				fmt.Fprint(w, label)
				if !sc.Scan() {
					return "", false
				}
				return strings.TrimSpace(sc.Text()), true
			}

			fmt.Fprintln(w, "tflow interactive triage. Enter symptoms, or quit to exit.")
			for {
				symptoms, ok := prompt("\nSymptoms: ")
				if !ok {
					break
				}
				switch strings.ToLower(symptoms) {
				case "quit", "exit", "q":
					fmt.Fprintln(w, "Goodbye.")
					return nil
				case "":
					fmt.Fprintln(w, "Please enter symptoms.")
					continue
				}
				if _, err := validate.Symptoms(symptoms); err != nil {
					fmt.Fprintf(w, "Invalid symptoms: %v\n", err)
					continue
				}

				patient := triage.PatientInfo{}
				ageText, ok := prompt("Patient age (optional): ")
				if !ok {
					break
				}
				if age, err := strconv.Atoi(ageText); err == nil && age > 0 {
					patient["age"] = age
				}

				printAssessment(w, c.svc.Assess(cmd.Context(), triage.AssessRequest{
					Symptoms:    symptoms,
					PatientInfo: patient,
					UseAI:       !noAI,
				}))
			}
			return sc.Err()
		},
	}
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "classify with keyword rules only")
	return cmd
}
