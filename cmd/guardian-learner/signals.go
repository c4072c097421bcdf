package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/feedback"
	"github.com/jordanhubbard/guardian/pkg/models"
)

type signalRow struct {
	Satisfaction models.Satisfaction `json:"satisfaction"`
	Outcome      models.Outcome      `json:"outcome"`
	Signal       string              `json:"signal"`
}

func newSignalsCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Validate and print the satisfaction feedback table",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := feedback.NewResolver(zap.NewNop(), nil)
			if err != nil {
				return err
			}

			var rows []signalRow
			for _, s := range models.AllSatisfactions {
				for _, o := range models.AllOutcomes {
					rows = append(rows, signalRow{Satisfaction: s, Outcome: o, Signal: resolver.Resolve(s, o)})
				}
			}

			w := cmd.OutOrStdout()
			if output == "table" {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SATISFACTION\tOUTCOME\tSIGNAL")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Satisfaction, r.Outcome, r.Signal)
				}
				return tw.Flush()
			}
			out, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json, table")
	return cmd
}
