package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/validate"
)

type vitalsFlags struct {
	pulse, systolic, diastolic int
}

func (f *vitalsFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.pulse, "pulse", 0, "pulse in bpm")
	fs.IntVar(&f.systolic, "systolic", 0, "systolic blood pressure in mmHg")
	fs.IntVar(&f.diastolic, "diastolic", 0, "diastolic blood pressure in mmHg")
}

// vitals returns the readings whose flags were set on the command line.
func (f *vitalsFlags) vitals(cmd *cobra.Command) triage.Vitals {
	var out triage.Vitals
	if cmd.Flags().Changed("pulse") {
		out.Pulse = &f.pulse
	}
	if cmd.Flags().Changed("systolic") {
		out.SystolicBP = &f.systolic
	}
	if cmd.Flags().Changed("diastolic") {
		out.DiastolicBP = &f.diastolic
	}
	return out
}

func newAssessCmd(c *cli) *cobra.Command {
	var (
		noAI bool
		age  int
		vf   vitalsFlags
	)
	cmd := &cobra.Command{
		Use:   "assess SYMPTOMS...",
		Short: "Classify one set of symptoms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symptoms, err := validate.Symptoms(strings.Join(args, " "))
			if err != nil {
				return err
			}

			req := triage.AssessRequest{
				Symptoms:    symptoms,
				PatientInfo: triage.PatientInfo{},
				UseAI:       !noAI,
			}
			if age > 0 {
				req.PatientInfo["age"] = age
			}
			if v := vf.vitals(cmd); v.Present() {
				if err := validate.Vitals(&v, false); err != nil {
					return err
				}
				req.Vitals = &v
			}

			printAssessment(cmd.OutOrStdout(), c.svc.Assess(cmd.Context(), req))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "classify with keyword rules only")
	cmd.Flags().IntVar(&age, "age", 0, "patient age (optional)")
	vf.register(cmd)
	return cmd
}

func printAssessment(w io.Writer, a *triage.Assessment) {
	rec := a.Record
	fmt.Fprintf(w, "Triage level: %s (%s)\n", rec.Level, a.Source)
	if rec.VitalsFlags != nil {
		fmt.Fprintf(w, "Vitals:       %s\n", flagSummary(*rec.VitalsFlags))
	}
	if a.StorageErr != nil {
		fmt.Fprintf(w, "Warning:      result could not be saved: %v\n", a.StorageErr)
		return
	}
	fmt.Fprintf(w, "Record:       %s\n", rec.ID)
}

func flagSummary(f triage.VitalsFlags) string {
	if !f.AnyFlag {
		return "within range"
	}
	var out []string
	if f.PulseFlag {
		out = append(out, "pulse")
	}
	if f.SystolicFlag {
		out = append(out, "systolic")
	}
	if f.DiastolicFlag {
		out = append(out, "diastolic")
	}
	return "abnormal " + strings.Join(out, ", ")
}
