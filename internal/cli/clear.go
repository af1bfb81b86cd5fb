package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	clearEquivalent string
	clearMaxDepth   int
	clearDryRun     bool
)

// clearCmd triggers one manual clearing pass.
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discover and execute debt cycles for one equivalent",
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().StringVar(&clearEquivalent, "equivalent", "", "equivalent code to clear (required)")
	clearCmd.Flags().IntVar(&clearMaxDepth, "max-depth", 4, "maximum cycle length to search (3-10)")
	clearCmd.Flags().BoolVar(&clearDryRun, "dry-run", false, "list cycles without executing them")
	_ = clearCmd.MarkFlagRequired("equivalent")
}

func runClear(cmd *cobra.Command, args []string) error {
	provider, err := buildProvider()
	if err != nil {
		return err
	}
	st, err := provider.Store()
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := provider.ClearingEngine()
	if err != nil {
		return err
	}

	if clearDryRun {
		cycles, err := engine.FindCycles(cmd.Context(), clearEquivalent, clearMaxDepth)
		if err != nil {
			return err
		}
		fmt.Printf("%d clearable cycle(s)\n", len(cycles))
		for i, cycle := range cycles {
			fmt.Printf("cycle %d:\n", i+1)
			for _, edge := range cycle {
				fmt.Printf("  %s -> %s  %s\n", edge.Debtor, edge.Creditor, edge.Amount)
			}
		}
		return nil
	}

	cleared, err := engine.AutoClear(cmd.Context(), clearEquivalent, clearMaxDepth)
	if err != nil {
		return err
	}
	fmt.Printf("cleared %d cycle(s)\n", cleared)
	return nil
}
