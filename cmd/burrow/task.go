package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/ledger"
)

// Task commands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage persistent tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create ACTION",
	Short: "Create a persistent task",
	Long: `Create a persistent task running ACTION.

Examples:
  # Sleep for a minute on the least loaded node
  burrow task create sleep --request '{"duration":"1m"}'

  # Run until removed, on a specific node
  burrow task create sleep --node node-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		request, _ := cmd.Flags().GetString("request")
		node, _ := cmd.Flags().GetString("node")
		stop, _ := cmd.Flags().GetBool("stop-on-completion")
		remove, _ := cmd.Flags().GetBool("remove-on-completion")

		var req json.RawMessage
		if request != "" {
			if !json.Valid([]byte(request)) {
				return fmt.Errorf("--request must be valid JSON")
			}
			req = json.RawMessage(request)
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.CreateTask(args[0], req, ledger.Flags{StopOnCompletion: stop, RemoveOnCompletion: remove}, node)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		fmt.Printf("✓ Task created: %d (action=%s)\n", id, args[0])
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persistent tasks in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, _ := cmd.Flags().GetString("node")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.ListTasks(node)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		fmt.Printf("Ledger version: %d\n", resp.Version)
		if len(resp.Tasks) == 0 {
			fmt.Println("No persistent tasks")
			return nil
		}
		printEntries(resp.Tasks)
		return nil
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a persistent task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.RemoveTask(id); err != nil {
			return fmt.Errorf("failed to remove task: %w", err)
		}
		fmt.Printf("✓ Task removed: %d\n", id)
		return nil
	},
}

var taskReassignCmd = &cobra.Command{
	Use:   "reassign ID NODE",
	Short: "Move a persistent task to another node",
	Long: `Move a persistent task to NODE under a new allocation.

Reassigning to the node already running the task restarts it there.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.ReassignTask(id, args[1]); err != nil {
			return fmt.Errorf("failed to reassign task: %w", err)
		}
		fmt.Printf("✓ Task %d reassigned to %s\n", id, args[1])
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel LOCAL_ID",
	Short: "Cancel a task running on the node given by --api",
	Long: `Cancel a local task by its node-local id, as shown by 'burrow status'.

The ledger is not changed, so the outcome is reported as a failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.CancelTask(id, reason); err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		fmt.Printf("✓ Local task cancelled: %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRemoveCmd)
	taskCmd.AddCommand(taskReassignCmd)
	taskCmd.AddCommand(taskCancelCmd)

	taskCreateCmd.Flags().String("request", "", "JSON request passed to the action")
	taskCreateCmd.Flags().String("node", "", "Node to run on (default: least loaded)")
	taskCreateCmd.Flags().Bool("stop-on-completion", false, "Stop the task once it completes")
	taskCreateCmd.Flags().Bool("remove-on-completion", false, "Remove the task once it completes")

	taskListCmd.Flags().String("node", "", "Only list tasks assigned to this node")

	taskCancelCmd.Flags().String("reason", "cancelled by operator", "Cancellation reason")
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func printEntries(entries []ledger.Entry) {
	fmt.Printf("%-8s %-10s %-16s %-16s %s\n", "ID", "ALLOC", "ACTION", "NODE", "REQUEST")
	for _, e := range entries {
		node := e.Node
		if node == "" {
			node = "<unassigned>"
		}
		req := string(e.Request)
		if req == "" {
			req = "-"
		}
		fmt.Printf("%-8d %-10d %-16s %-16s %s\n", e.ID, e.AllocationID, e.Action, node, req)
	}
}
