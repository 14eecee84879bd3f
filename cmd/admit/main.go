// Command admit evaluates appointment requests against a clinic policy file
// without running the service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/liamcoop/admission/internal/config"
	"github.com/liamcoop/admission/rules"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ADMISSION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "admit",
		Short: "Appointment admission CLI",
		Long: `admit runs the appointment admission rules locally.
A request passes operating hours, weekly closure, blocked intervals, capacity,
stage dependency and stock admission in that order; the first failure decides
the reason and, for time-based rules, one suggested alternative.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("policy", "", "policy YAML file (defaults to the built-in policy)")
	root.PersistentFlags().Bool("json", false, "output JSON")
	_ = v.BindPFlag("policy", root.PersistentFlags().Lookup("policy"))
	_ = v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(evaluateCmd(v))
	root.AddCommand(policyCmd(v))
	return root
}

func loadEngine(v *viper.Viper) (*rules.Engine, error) {
	p, err := config.LoadPolicy(v.GetString("policy"))
	if err != nil {
		return nil, err
	}
	return rules.NewEngine(p)
}

func evaluateCmd(v *viper.Viper) *cobra.Command {
	var req rules.Request
	var prevTime string
	var stock, threshold int

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one appointment request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.AppointmentType == "" || req.RequestedTime == "" {
				return fmt.Errorf("--type and --time required")
			}
			engine, err := loadEngine(v)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("prev-time") {
				req.PreviousStageTime = &prevTime
			}
			if flags.Changed("stock") {
				req.StockLevel = &stock
			}
			if flags.Changed("threshold") {
				req.LowStockThreshold = &threshold
			}

			d := engine.Evaluate(req)
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), d)
			}
			renderDecision(cmd.OutOrStdout(), req, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.AppointmentType, "type", "", "appointment type, e.g. \"Dose 2\"")
	cmd.Flags().StringVar(&req.RequestedTime, "time", "", "requested time as \"YYYY-MM-DD HH:MM\"")
	cmd.Flags().StringVar(&req.PreviousStageStatus, "prev-status", "", "prior stage status: none, pending or completed")
	cmd.Flags().StringVar(&prevTime, "prev-time", "", "prior stage completion time")
	cmd.Flags().IntVar(&stock, "stock", 0, "stock level of the consumed resource")
	cmd.Flags().IntVar(&threshold, "threshold", 0, "low stock threshold (defaults to the policy value)")
	return cmd
}

func renderDecision(w io.Writer, req rules.Request, d rules.Decision) {
	suggestions := make([]string, len(d.Result.Suggestions))
	for i, s := range d.Result.Suggestions {
		suggestions[i] = s.String()
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"Appointment", req.AppointmentType})
	tw.AppendRow(table.Row{"Requested", req.RequestedTime})
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"Valid", d.Result.IsValid})
	tw.AppendRow(table.Row{"Reason", d.Result.Reason})
	if d.FailedRule != "" {
		tw.AppendRow(table.Row{"Failed rule", d.FailedRule})
	}
	if d.Kind != rules.KindNone {
		tw.AppendRow(table.Row{"Kind", d.Kind})
	}
	if len(suggestions) > 0 {
		tw.AppendRow(table.Row{"Suggestions", strings.Join(suggestions, ", ")})
	}
	if d.LowStock {
		tw.AppendRow(table.Row{"Low stock", true})
	}
	tw.Render()
}

func policyCmd(v *viper.Viper) *cobra.Command {
	pol := &cobra.Command{Use: "policy", Short: "Inspect policy files"}
	pol.AddCommand(policyShowCmd(v))
	pol.AddCommand(policyRulesCmd(v))
	return pol
}

func policyShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy, with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.LoadPolicy(v.GetString("policy"))
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), p)
			}
			data, err := config.PolicyToYAML(p)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func policyRulesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Compile the policy and list the rules it enables, in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine(v)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), engine.Rules())
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"#", "Rule"})
			for i, id := range engine.Rules() {
				tw.AppendRow(table.Row{i + 1, id})
			}
			tw.Render()
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
