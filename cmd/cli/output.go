package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/iho/cashflow/internal/adapter/http/dto"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func printRuns(w io.Writer, runs []*dto.RunResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tSTATUS\tMATERIALIZED\tSKIPPED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			truncate(r.ID, 26), r.RunDate, r.Status, r.Materialized, r.Skipped, r.Failed)
	}
	return tw.Flush()
}

func printAlerts(w io.Writer, alerts []*dto.AlertResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tTYPE\tDUE\tAMOUNT\tMESSAGE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Severity, a.Type, a.DueDate, a.Amount.StringFixed(2), truncate(a.Message, 60))
	}
	return tw.Flush()
}

func printForecast(w io.Writer, f *dto.ForecastResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tBALANCE\tOBLIGATIONS")
	for _, p := range f.Points {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.Date, p.ProjectedBalance.StringFixed(2), len(p.ContributingObligationIDs))
	}
	return tw.Flush()
}
