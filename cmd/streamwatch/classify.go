package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-streamwatch/internal/engine"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

func newClassifyCmd(a *app) *cobra.Command {
	var (
		duration float64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:     "classify <component> <metric> <value>",
		Short:   "Classify a single metric value against the catalog",
		Example: "  streamwatch classify kafka kafka_consumer_lag 75000",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			cat, err := a.catalog(cfg)
			if err != nil {
				return err
			}
			// Unknown components still classify; the verdict reports them as unknown.
			component := models.Component(args[0])
			if parsed, err := models.ParseComponent(args[0]); err == nil {
				component = parsed
			}
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("value %q is not a number", args[2])
			}

			result := engine.NewClassifier(a.logger, cat).Classify(component, args[1], value, duration)
			if asJSON {
				return json.NewEncoder(a.stdout).Encode(result)
			}
			fmt.Fprintf(a.stdout, "%s %s=%s: %s (%s)\n", component, args[1], args[2], result.Severity, result.Reason)
			return nil
		},
	}
	cmd.Flags().Float64Var(&duration, "duration", engine.DefaultDurationMinutes, "minutes the value has been outside its normal range")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the verdict as JSON")
	return cmd
}
