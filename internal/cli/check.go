package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/depwatch/internal/monitor/probe"
)

var checkCmd = &cobra.Command{
	Use:   "check [dependency_id]",
	Short: "Probe every endpoint of one dependency once and print the results",
	Args:  cobra.ExactArgs(1),
	Run:   runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	def, ok := cfg.Dependency(args[0])
	if !ok {
		fmt.Printf("Unknown dependency: %s\n", args[0])
		os.Exit(1)
	}

	executor := probe.NewExecutor(probe.Config{
		RetryAttempts:  cfg.Monitor.RetryAttempts,
		RetryDelay:     cfg.Monitor.RetryDelay,
		DefaultTimeout: cfg.Monitor.Timeout,
	})
	defer func() {
		_ = executor.Close()
	}()

	ctx := context.Background()
	failed := false

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ENDPOINT\tOK\tATTEMPTS\tMS\tERROR")
	for _, ep := range def.Endpoints {
		if err := executor.Validate(ep); err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%s\n", ep.URL, false, 0, 0, err)
			failed = true
			continue
		}
		res := executor.Run(ctx, ep)
		_, _ = fmt.Fprintf(w, "%s\t%t\t%d\t%.0f\t%s\n", res.Endpoint, res.Success, res.Attempts, res.ResponseTimeMs, res.Error)
		if !res.Success {
			failed = true
		}
	}
	_ = w.Flush()

	if failed {
		os.Exit(1)
	}
}
