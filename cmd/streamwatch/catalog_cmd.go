package main

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate metric envelopes",
	}
	cmd.AddCommand(newCatalogListCmd(a), newCatalogValidateCmd(a))
	return cmd
}

func newCatalogListCmd(a *app) *cobra.Command {
	var component string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			cat, err := a.catalog(cfg)
			if err != nil {
				return err
			}
			defs := cat.All()
			if component != "" {
				c, err := models.ParseComponent(component)
				if err != nil {
					return err
				}
				defs = cat.Definitions(c)
			}
			renderDefinitions(a.stdout, defs)
			return nil
		},
	}
	cmd.Flags().StringVar(&component, "component", "", "only list one component")
	return cmd
}

func newCatalogValidateCmd(a *app) *cobra.Command {
	var overrides string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the built-in catalog and an optional overrides file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if overrides != "" {
				cfg.Catalog.OverridesPath = overrides
			}
			cat, err := a.catalog(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "catalog ok: %d metrics\n", cat.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&overrides, "overrides", "", "overrides file to validate (default catalog.overridesPath)")
	return cmd
}

func renderDefinitions(w io.Writer, defs []catalog.MetricDefinition) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Component", "Metric", "Unit", "Normal", "Warning", "Critical", "Direction"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, d := range defs {
		table.Append([]string{
			string(d.Component),
			d.Name,
			d.Unit,
			formatFloat(d.NormalRange.Min) + " - " + formatFloat(d.NormalRange.Max),
			formatThreshold(d.WarningThreshold()),
			formatThreshold(d.CriticalThreshold()),
			string(d.ThresholdDirection()),
		})
	}
	table.Render()
}

func formatThreshold(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
