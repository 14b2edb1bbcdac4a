package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/services"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

func newAnomaliesCmd(a *app) *cobra.Command {
	var (
		lookback  time.Duration
		since     string
		component string
		critical  bool
		summary   bool
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List or summarise stored anomaly events",
		Example: `  streamwatch anomalies --lookback 30m --component kafka
  streamwatch anomalies --critical
  streamwatch anomalies --summary --lookback 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if since != "" {
				from, err := utils.ParseRFC3339(since)
				if err != nil {
					return err
				}
				lookback = time.Since(from)
			}
			var c models.Component
			if component != "" {
				if c, err = models.ParseComponent(component); err != nil {
					return err
				}
			}
			store, err := a.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			service := services.NewMonitorService(a.logger, nil, services.Options{Store: store})

			if summary {
				s, err := service.Summary(cmd.Context(), lookback)
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(a.stdout).Encode(s)
				}
				renderSummary(a.stdout, s)
				return nil
			}

			var events []models.AnomalyEvent
			if critical {
				events, err = service.CriticalAnomalies(cmd.Context(), lookback)
			} else {
				events, err = service.RecentEvents(cmd.Context(), lookback, c, limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(a.stdout).Encode(events)
			}
			renderEvents(a.stdout, events)
			return nil
		},
	}
	cmd.Flags().DurationVar(&lookback, "lookback", time.Hour, "how far back to read events")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 start time, overrides --lookback")
	cmd.Flags().StringVar(&component, "component", "", "only list one component")
	cmd.Flags().BoolVar(&critical, "critical", false, "only unresolved critical events")
	cmd.Flags().BoolVar(&summary, "summary", false, "print per-component counts and top metrics")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func renderEvents(w io.Writer, events []models.AnomalyEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no anomalies")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Component", "Metric", "Value", "Severity", "Resolved", "Reason"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, e := range events {
		resolved := "-"
		if e.ResolvedAt != nil {
			resolved = e.ResolvedAt.Format(time.RFC3339)
		}
		table.Append([]string{
			e.Timestamp.Format(time.RFC3339),
			string(e.Component),
			e.Metric,
			formatFloat(e.Value),
			string(e.Severity),
			resolved,
			e.Reason,
		})
	}
	table.Render()
}

func renderSummary(w io.Writer, s models.AnomalySummary) {
	fmt.Fprintf(w, "%d anomalies since %s\n", s.Total, s.Since.Format(time.RFC3339))
	if len(s.BySeverity) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Component", "Severity", "Count", "Metrics"})
		table.SetBorder(false)
		for _, row := range s.BySeverity {
			table.Append([]string{
				string(row.Component),
				string(row.Severity),
				strconv.FormatInt(row.Count, 10),
				strconv.FormatInt(row.UniqueMetrics, 10),
			})
		}
		table.Render()
	}
	if len(s.TopMetrics) > 0 {
		fmt.Fprintln(w, "top metrics:")
		for _, m := range s.TopMetrics {
			fmt.Fprintf(w, "  %-10s %-45s %d\n", m.Component, m.Metric, m.Count)
		}
	}
}
