package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/petrijr/wfstore/internal/host"
	"github.com/petrijr/wfstore/pkg/api"
)

// InstancesCmd returns the instances command
func InstancesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect stored workflow instances",
	}
	cmd.AddCommand(instancesListCmd(opts))
	cmd.AddCommand(instancesGetCmd(opts))
	return cmd
}

func instancesListCmd(opts *rootOptions) *cobra.Command {
	var (
		status string
		wfType string
		skip   int
		take   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := api.InstanceFilter{Type: wfType, Skip: skip, Take: take}
			if status != "" {
				st, err := api.ParseWorkflowStatus(status)
				if err != nil {
					return err
				}
				filter.Status = &st
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(app *host.App) error {
				instances, err := app.Provider.GetWorkflowInstances(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("failed to list instances: %w", err)
				}
				if len(instances) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflow instances found")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tVERSION\tSTATUS\tCREATED\tNEXT")
				for _, wf := range instances {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						wf.ID, wf.WorkflowDefinitionID, wf.Version,
						colorStatus(wf.Status), formatTime(&wf.CreateTime), formatNext(wf.NextExecution))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (Runnable, Suspended, Complete, Terminated)")
	cmd.Flags().StringVar(&wfType, "type", "", "filter by workflow definition id")
	cmd.Flags().IntVar(&skip, "skip", 0, "number of instances to skip")
	cmd.Flags().IntVar(&take, "take", 20, "maximum number of instances to show")
	return cmd
}

func instancesGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <instance-id>",
		Short: "Show one workflow instance with its execution pointers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(app *host.App) error {
				wf, err := app.Provider.GetWorkflowInstance(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to load instance: %w", err)
				}
				if wf == nil {
					return fmt.Errorf("instance %s: %w", args[0], api.ErrWorkflowNotFound)
				}
				printInstance(cmd.OutOrStdout(), wf)
				return nil
			})
		},
	}
}

func printInstance(out io.Writer, wf *api.WorkflowInstance) {
	fmt.Fprintf(out, "Instance: %s [%s]\n", wf.ID, colorStatus(wf.Status))
	fmt.Fprintf(out, "  Definition: %s v%d\n", wf.WorkflowDefinitionID, wf.Version)
	if wf.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", wf.Description)
	}
	if wf.Reference != "" {
		fmt.Fprintf(out, "  Reference: %s\n", wf.Reference)
	}
	fmt.Fprintf(out, "  Created: %s\n", formatTime(&wf.CreateTime))
	fmt.Fprintf(out, "  Completed: %s\n", formatTime(wf.CompleteTime))
	fmt.Fprintf(out, "  Next execution: %s\n", formatNext(wf.NextExecution))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Execution pointers (%d):\n", len(wf.ExecutionPointers))
	for _, ep := range wf.ExecutionPointers {
		active := ""
		if ep.Active {
			active = color.New(color.FgGreen).Sprint(" active")
		}
		fmt.Fprintf(out, "  - %s step=%d %s %s%s\n", ep.ID, ep.StepID, ep.StepName, ep.Status, active)
		if ep.EventName != "" {
			fmt.Fprintf(out, "      waiting for %s/%s\n", ep.EventName, ep.EventKey)
		}
	}
}

func colorStatus(s api.WorkflowStatus) string {
	switch s {
	case api.WorkflowStatusRunnable:
		return color.New(color.FgGreen).Sprint(s)
	case api.WorkflowStatusSuspended:
		return color.New(color.FgYellow).Sprint(s)
	case api.WorkflowStatusTerminated:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgBlue).Sprint(s)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatTime(t)
}
