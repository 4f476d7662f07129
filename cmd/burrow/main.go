package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/node"
	"github.com/cuemby/burrow/pkg/security"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - persistent tasks for small clusters",
	Long: `Burrow keeps long-running persistent tasks assigned to cluster nodes.

A raft-replicated ledger records which node runs each task. Every node
reconciles its running tasks against the ledger: it starts what is newly
assigned, cancels what moved away and reports completions back.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("api", "127.0.0.1:7947", "Node API address")
	rootCmd.PersistentFlags().String("cert-dir", "", "Directory with the client certificate for mutual TLS")

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(statusCmd)
}

// newClient connects to the node named by --api
func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("api")
	certDir, _ := cmd.Flags().GetString("cert-dir")

	var opts []client.Option
	if certDir != "" {
		creds, err := security.ClientCredentials(certDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTransportCredentials(creds))
	}

	c, err := client.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return c, nil
}

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a burrow node",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a burrow node",
	Long: `Start a burrow node.

With --bootstrap (the default) the node forms a new cluster. With
--join ADDR it asks an existing member to add it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		applyNodeFlags(cmd, cfg)

		log.Init(cfg.LogConfig())

		n, err := node.New(cfg, Version)
		if err != nil {
			return err
		}

		fmt.Println("Starting burrow node...")
		fmt.Printf("  Node ID: %s\n", cfg.NodeID)
		fmt.Printf("  Raft Address: %s\n", cfg.RaftAddr)
		fmt.Printf("  API Address: %s\n", cfg.APIAddr)
		fmt.Printf("  HTTP Address: %s\n", cfg.HTTPAddr)
		if !cfg.InMemory {
			fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		}
		fmt.Println()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := n.Run(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

// applyNodeFlags overrides cfg with the flags set on the command line
func applyNodeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("node-id", &cfg.NodeID)
	str("bind-addr", &cfg.RaftAddr)
	str("api-addr", &cfg.APIAddr)
	str("advertise-api-addr", &cfg.AdvertiseAPIAddr)
	str("http-addr", &cfg.HTTPAddr)
	str("data-dir", &cfg.DataDir)
	str("log-level", &cfg.Log.Level)
	str("tls-cert-dir", &cfg.TLS.CertDir)

	if flags.Changed("join") {
		cfg.Join, _ = flags.GetString("join")
		if !flags.Changed("bootstrap") {
			cfg.Bootstrap = false
		}
	}
	if flags.Changed("bootstrap") {
		cfg.Bootstrap, _ = flags.GetBool("bootstrap")
	}
	if flags.Changed("in-memory") {
		cfg.InMemory, _ = flags.GetBool("in-memory")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("rpc-timeout") {
		cfg.RPC.Timeout, _ = flags.GetDuration("rpc-timeout")
	}
	if flags.Changed("placement-recheck") {
		cfg.Placement.RecheckInterval, _ = flags.GetDuration("placement-recheck")
	}
}

func init() {
	nodeCmd.AddCommand(nodeStartCmd)
	addNodeStartFlags(nodeStartCmd)
}

func addNodeStartFlags(cmd *cobra.Command) {
	defaults := config.Default()
	flags := cmd.Flags()
	flags.StringP("config", "c", "", "YAML configuration file")
	flags.String("node-id", defaults.NodeID, "Unique node ID")
	flags.String("bind-addr", defaults.RaftAddr, "Address for Raft communication")
	flags.String("api-addr", defaults.APIAddr, "Address for the gRPC API")
	flags.String("advertise-api-addr", "", "API address other nodes should dial")
	flags.String("http-addr", defaults.HTTPAddr, "Address for health, metrics and task status")
	flags.String("data-dir", defaults.DataDir, "Data directory for cluster state")
	flags.Bool("bootstrap", defaults.Bootstrap, "Form a new cluster")
	flags.String("join", "", "API address of a cluster member to join through")
	flags.Bool("in-memory", false, "Keep all state in memory (single node only)")
	flags.String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Log as JSON")
	flags.String("tls-cert-dir", "", "Directory with node.crt, node.key and ca.crt for mutual TLS")
	flags.Duration("rpc-timeout", defaults.RPC.Timeout, "Timeout for node-to-node RPCs")
	flags.Duration("placement-recheck", defaults.Placement.RecheckInterval, "How often the leader places orphaned tasks")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persistent tasks running on a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.ListLocalTasks()
		if err != nil {
			return fmt.Errorf("failed to list local tasks: %w", err)
		}

		fmt.Printf("Node: %s\n", resp.Node)
		if len(resp.Tasks) == 0 {
			fmt.Println("No persistent tasks running")
			return nil
		}
		fmt.Printf("%-12s %-8s %-16s %-20s %s\n", "TASK", "LOCAL", "ACTION", "PHASE", "STATUS")
		for _, t := range resp.Tasks {
			phase := t.Phase
			if t.Failure != "" {
				phase += " (" + t.Failure + ")"
			}
			fmt.Printf("%-12s %-8d %-16s %-20s %s\n", t.ID, t.LocalID, t.Action, phase, t.Status)
		}
		return nil
	},
}
