package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-streamwatch/internal/engine"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/services"
	"github.com/miradorstack/mirador-streamwatch/internal/trend"
)

func newTrendCmd(a *app) *cobra.Command {
	var (
		hours  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "trend <component> <metric>",
		Short:   "Analyse the stored per-minute series of a metric",
		Example: "  streamwatch trend flink flink_task_latency --hours 6",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			component, err := models.ParseComponent(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			provider := a.cacheProvider(cfg)
			defer provider.Close()

			service := services.NewMonitorService(a.logger, nil, services.Options{
				Trends: trend.NewAnalyzer(a.logger, store, provider, cfg.Cache.TrendTTL),
			})
			result, err := service.Trend(cmd.Context(), component, args[1], hours)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(a.stdout).Encode(result)
			}
			writeTrend(a.stdout, result)
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 1, "lookback in hours")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the result as JSON")
	return cmd
}

func writeTrend(w io.Writer, r models.TrendResult) {
	if !r.HasData() {
		fmt.Fprintf(w, "%s on %s (%s): no data\n", r.Metric, r.Component, r.Component.Role())
		return
	}
	fmt.Fprintf(w, "%s on %s (%s): %s over %d points\n", r.Metric, r.Component, r.Component.Role(), r.Direction, r.Points)
	fmt.Fprintf(w, "  latest=%s avg=%s min=%s max=%s recent=%s older=%s\n",
		formatFloat(r.Latest), formatFloat(r.OverallAvg), formatFloat(r.Min), formatFloat(r.Max),
		formatFloat(r.RecentAvg), formatFloat(r.OlderAvg))
}

func newPatternsCmd(a *app) *cobra.Command {
	var (
		lookback time.Duration
		window   time.Duration
		stored   bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Detect cross-component patterns in recent unresolved anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			rules, err := engine.NewRuleEngine(cfg.Rules.Path, a.logger)
			if err != nil {
				return err
			}
			service := services.NewMonitorService(a.logger, nil, services.Options{Rules: rules, Store: store})

			var found []models.Pattern
			if stored {
				found, err = service.RecentPatterns(cmd.Context(), lookback, 0)
				if err != nil {
					return err
				}
			} else {
				now := time.Now().UTC()
				events, err := store.Events(cmd.Context(), models.EventQuery{
					Start: now.Add(-lookback),
					End:   now,
					Limit: 10000,
				})
				if err != nil {
					return err
				}
				found = service.DetectPatterns(events, window)
			}

			if asJSON {
				return json.NewEncoder(a.stdout).Encode(found)
			}
			renderPatterns(a.stdout, found)
			return nil
		},
	}
	cmd.Flags().DurationVar(&lookback, "lookback", 15*time.Minute, "how far back to read events")
	cmd.Flags().DurationVar(&window, "window", 5*time.Minute, "bucket width")
	cmd.Flags().BoolVar(&stored, "stored", false, "list persisted patterns instead of detecting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit patterns as JSON")
	return cmd
}

func renderPatterns(w io.Writer, found []models.Pattern) {
	if len(found) == 0 {
		fmt.Fprintln(w, "no patterns detected")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Window", "Type", "Components", "Anomalies", "Severity", "Signatures", "Recommendations"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, p := range found {
		components := make([]string, 0, len(p.Components))
		for _, c := range p.Components {
			components = append(components, string(c))
		}
		table.Append([]string{
			p.WindowStart.Format(time.RFC3339),
			p.Type,
			strings.Join(components, ","),
			strconv.Itoa(p.AnomalyCount),
			string(p.MaxSeverity),
			strings.Join(p.Signatures, ","),
			strings.Join(p.Recommendations, "; "),
		})
	}
	table.Render()
}
