package simulate

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/output"
	"github.com/tphakala/audiopolicy/internal/policy"
	"github.com/tphakala/audiopolicy/internal/scenario"
)

// Command creates the command replaying scenario files on the simulated platform.
func Command(settings *conf.Settings) *cobra.Command {
	var showRouting bool

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Replay routing scenarios",
		Long:  "Replay YAML routing scenarios against the policy on a simulated platform and check their expectations.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				report, err := run(cmd, settings, path)
				if err != nil {
					return err
				}
				renderReport(cmd.OutOrStdout(), report, showRouting)
				failed += report.Failed
			}
			if failed > 0 {
				return errors.Newf("%d scenario steps failed", failed).
					Component("simulate").
					Category(errors.CategoryValidation).
					Build()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showRouting, "routing", false, "Print the final device of every strategy")
	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, path string) (*scenario.Report, error) {
	s, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	m, _, err := scenario.NewManager(s, policy.WithSettings(settings.Policy))
	if err != nil {
		return nil, err
	}
	return scenario.NewRunner(m).Run(cmd.Context(), s)
}

func renderReport(w io.Writer, report *scenario.Report, showRouting bool) {
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		status := "ok"
		if !res.Passed {
			status = "FAIL: " + res.Failure
		}
		detail := res.Detail
		if res.Err != nil && detail == "" {
			detail = res.Err.Error()
		}
		rows = append(rows, []string{strconv.Itoa(res.Step), res.Action, detail, status})
	}

	fmt.Fprintf(w, "Scenario %s (run %s)\n", report.Scenario, report.RunID)
	fmt.Fprintln(w, output.RenderTable(
		[]string{"Step", "Action", "Detail", "Result"},
		rows,
		[]output.Alignment{output.AlignRight},
	))

	if showRouting {
		strategies := slices.Sorted(maps.Keys(report.Snapshot.StrategyDevices))
		routing := make([][]string, 0, len(strategies))
		for _, name := range strategies {
			routing = append(routing, []string{name, report.Snapshot.StrategyDevices[name]})
		}
		fmt.Fprintf(w, "Phone state %s\n", report.Snapshot.PhoneState)
		fmt.Fprintln(w, output.RenderTable([]string{"Strategy", "Devices"}, routing, nil))
	}

	fmt.Fprintf(w, "%d steps, %d failed\n", len(report.Results), report.Failed)
}
