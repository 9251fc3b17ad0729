package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/validate"
)

func newVitalsCmd(c *cli) *cobra.Command {
	var vf vitalsFlags
	cmd := &cobra.Command{
		Use:   "vitals",
		Short: "Flag abnormal pulse and blood pressure readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := vf.vitals(cmd)
			if err := validate.Vitals(&v, true); err != nil {
				return err
			}
			out := c.svc.CheckVitals(cmd.Context(), v, triage.PatientInfo{})
			w := cmd.OutOrStdout()

			f := out.Record.Flags
			fmt.Fprintf(w, "Pulse:     %s\n", mark(f.PulseFlag))
			fmt.Fprintf(w, "Systolic:  %s\n", mark(f.SystolicFlag))
			fmt.Fprintf(w, "Diastolic: %s\n", mark(f.DiastolicFlag))
			fmt.Fprintf(w, "Abnormal:  %s\n", yesNo(f.AnyFlag))
			if out.StorageErr != nil {
				fmt.Fprintf(w, "Warning:   result could not be saved: %v\n", out.StorageErr)
				return nil
			}
			fmt.Fprintf(w, "Record:    %s\n", out.Record.ID)
			return nil
		},
	}
	vf.register(cmd)
	for _, name := range []string{"pulse", "systolic", "diastolic"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func mark(flagged bool) string {
	if flagged {
		return "FLAG"
	}
	return "ok"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
