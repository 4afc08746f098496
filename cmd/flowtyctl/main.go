// Command flowtyctl is the test/ops CLI for flowty: submit a workflow
// definition, trigger a run, inspect instance status, and tail its stage
// transitions against a running scheduler's admin API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var schedulerAddr string

var rootCmd = &cobra.Command{
	Use:   "flowtyctl",
	Short: "Operate a flowty scheduler: submit workflows, trigger runs, inspect status.",
}

var submitCmd = &cobra.Command{
	Use:   "submit <definition.json>",
	Short: "Submit a workflow definition for the scheduler to pick up on its next harvest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read definition: %w", err)
		}
		resp, err := httpPost(schedulerAddr+"/v1/workflows", payload)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("submit failed: %s", resp.Status)
		}
		fmt.Println("workflow submitted")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <workflow_id>",
	Short: "Trigger an immediate run of a loaded workflow, ignoring its cron schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := httpPost(schedulerAddr+"/v1/workflows/"+args[0]+"/run", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("run failed: %s", resp.Status)
		}
		var summary instanceStatus
		if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
			return err
		}
		fmt.Printf("queued wiid=%d run_date=%s\n", summary.WIID, summary.RunDate.Format(time.RFC3339))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow_id>",
	Short: "Print the current state of every in-memory instance for a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instances, err := fetchInstances(args[0])
		if err != nil {
			return err
		}
		printInstances(instances)
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <workflow_id>",
	Short: "Poll a workflow's instances until every one has reached a terminal run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := cmd.Flags().GetDuration("interval")
		if err != nil {
			return err
		}
		for {
			instances, err := fetchInstances(args[0])
			if err != nil {
				return err
			}
			printInstances(instances)
			if allTerminal(instances) {
				return nil
			}
			time.Sleep(interval)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&schedulerAddr, "scheduler-addr", defaultSchedulerAddr(), "scheduler admin API base URL")
	tailCmd.Flags().Duration("interval", 2*time.Second, "poll interval")
	rootCmd.AddCommand(submitCmd, runCmd, statusCmd, tailCmd)
}

func defaultSchedulerAddr() string {
	if a := os.Getenv("FLOWTYCTL_SCHEDULER_ADDR"); a != "" {
		return a
	}
	return "http://localhost:8092"
}

func httpPost(url string, payload []byte) (*http.Response, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Post(url, "application/json", bytes.NewReader(payload))
}

// instanceStatus mirrors internal/scheduler.instanceStatus — duplicated
// rather than imported, since the CLI only ever sees it as wire JSON from
// the admin API, never the scheduler package's in-process type.
type instanceStatus struct {
	WIID       int64        `json:"wiid"`
	WorkflowID string       `json:"workflow_id"`
	RunState   string       `json:"run_state"`
	RunDate    time.Time    `json:"run_date"`
	Tasks      []taskStatus `json:"tasks"`
}

type taskStatus struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func fetchInstances(workflowID string) ([]instanceStatus, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(schedulerAddr + "/v1/workflows/" + workflowID + "/instances")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status failed: %s", resp.Status)
	}
	var instances []instanceStatus
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func printInstances(instances []instanceStatus) {
	for _, inst := range instances {
		fmt.Printf("wiid=%d run_state=%s run_date=%s\n", inst.WIID, inst.RunState, inst.RunDate.Format(time.RFC3339))
		for _, t := range inst.Tasks {
			fmt.Printf("  %s: %s\n", t.TaskID, t.Status)
		}
	}
}

func allTerminal(instances []instanceStatus) bool {
	if len(instances) == 0 {
		return false
	}
	for _, inst := range instances {
		if inst.RunState != "success" && inst.RunState != "failed" {
			return false
		}
	}
	return true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
