package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/ledger"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create the persistent tasks listed in a file",
	Long: `Create persistent tasks from a YAML file.

Examples:
  # tasks.yaml
  tasks:
    - action: sleep
      request:
        duration: 10m
    - action: echo
      node: node-2
      request:
        message: hello

  burrow apply -f tasks.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// TaskFile lists persistent tasks to create
type TaskFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec describes one persistent task
type TaskSpec struct {
	Action             string                 `yaml:"action"`
	Node               string                 `yaml:"node,omitempty"`
	Request            map[string]interface{} `yaml:"request,omitempty"`
	StopOnCompletion   bool                   `yaml:"stopOnCompletion,omitempty"`
	RemoveOnCompletion bool                   `yaml:"removeOnCompletion,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	file, err := loadTaskFile(filename)
	if err != nil {
		return err
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	for i, spec := range file.Tasks {
		if err := applyTask(c, spec); err != nil {
			return fmt.Errorf("task %d (%s): %w", i, spec.Action, err)
		}
	}
	return nil
}

func loadTaskFile(filename string) (*TaskFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file TaskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i, spec := range file.Tasks {
		if spec.Action == "" {
			return nil, fmt.Errorf("task %d: action is required", i)
		}
	}
	return &file, nil
}

func applyTask(c *client.Client, spec TaskSpec) error {
	req, err := spec.request()
	if err != nil {
		return err
	}

	flags := ledger.Flags{
		StopOnCompletion:   spec.StopOnCompletion,
		RemoveOnCompletion: spec.RemoveOnCompletion,
	}
	id, err := c.CreateTask(spec.Action, req, flags, spec.Node)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	fmt.Printf("✓ Task created: %d (action=%s)\n", id, spec.Action)
	return nil
}

// request encodes the YAML request as the JSON the action receives
func (s TaskSpec) request() (json.RawMessage, error) {
	if len(s.Request) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(s.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}
