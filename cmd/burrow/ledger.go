package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/storage"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect a node's stored ledger",
}

var ledgerDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the ledger, nodes and completions stored in a data directory",
	Long: `Print the state the authority last persisted in --data-dir.

The node owning the directory must be stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := storage.OpenBoltStore(filepath.Join(dataDir, "burrow.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		l, err := store.LoadLedger()
		if err != nil {
			return err
		}
		fmt.Printf("Ledger version: %d\n", l.Version())
		if l.Len() == 0 {
			fmt.Println("No persistent tasks")
		} else {
			printEntries(l.Tasks())
		}

		nodes, err := store.ListNodes()
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("Nodes: %d\n", len(nodes))
		for _, n := range nodes {
			fmt.Printf("  %-16s %-8s raft=%s api=%s\n", n.ID, n.Status, n.RaftAddr, n.APIAddr)
		}

		completions, err := store.ListCompletions()
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("Completions: %d\n", len(completions))
		for _, c := range completions {
			result := "succeeded"
			if !c.Succeeded() {
				result = "failed: " + c.Failure
			}
			fmt.Printf("  %-12s %-16s %-16s %s\n", c.ID, c.Action, c.Node, result)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerDumpCmd)

	ledgerDumpCmd.Flags().String("data-dir", "./burrow-data", "Data directory of a stopped node")
}
