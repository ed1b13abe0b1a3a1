package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MIK-RC/aws-aiops/internal/app"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
)

// optionFlags holds the raw flag values before they become InvocationOptions.
type optionFlags struct {
	opts          workflow.InvocationOptions
	createTickets bool
	dryRun        bool
}

func addBudgetFlags(cmd *cobra.Command, f *optionFlags) {
	cmd.Flags().IntVar(&f.opts.MaxIterations, "max-iterations", 0, "maximum capability turns")
	cmd.Flags().IntVar(&f.opts.MaxHandoffs, "max-handoffs", 0, "maximum handoffs")
	cmd.Flags().Float64Var(&f.opts.ExecutionTimeout, "execution-timeout", 0, "run timeout in seconds")
	cmd.Flags().Float64Var(&f.opts.NodeTimeout, "node-timeout", 0, "per-turn timeout in seconds")
}

func addPipelineFlags(cmd *cobra.Command, f *optionFlags) {
	cmd.Flags().StringVar(&f.opts.TimeFrom, "time-from", "", "start of the log window, e.g. now-1d")
	cmd.Flags().StringVar(&f.opts.TimeTo, "time-to", "", "end of the log window")
	cmd.Flags().StringVar(&f.opts.MinSeverity, "min-severity", "", "lowest severity that opens a ticket")
	cmd.Flags().BoolVar(&f.createTickets, "create-tickets", true, "open tickets for new issues")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "skip ticket creation and report what would be opened")
}

// resolve copies the bool flags the user actually set.
func (f *optionFlags) resolve(cmd *cobra.Command) workflow.InvocationOptions {
	opts := f.opts
	if flag := cmd.Flags().Lookup("create-tickets"); flag != nil && flag.Changed {
		v := f.createTickets
		opts.CreateTickets = &v
	}
	if flag := cmd.Flags().Lookup("dry-run"); flag != nil && flag.Changed {
		v := f.dryRun
		opts.DryRun = &v
	}
	return opts
}

func invoke(ctx context.Context, inv workflow.Invocation) error {
	return withApp(ctx, func(ctx context.Context, a *app.Application) error {
		out, err := a.Service.Invoke(ctx, inv)
		if err != nil {
			return err
		}
		if err := printOutcome(os.Stdout, out); err != nil {
			return err
		}
		if !out.Success {
			return errRunFailed
		}
		return nil
	})
}

func swarmCmd() *cobra.Command {
	var (
		flags optionFlags
		start string
	)
	cmd := &cobra.Command{
		Use:   "swarm <task>",
		Short: "Run a task through the capability swarm",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd.Context(), workflow.Invocation{
				Mode:       workflow.ModeSwarm,
				Task:       strings.Join(args, " "),
				StartAgent: start,
				Options:    flags.resolve(cmd),
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first capability (defaults to the log retrieval capability)")
	addBudgetFlags(cmd, &flags)
	return cmd
}

func pipelineCmd() *cobra.Command {
	var flags optionFlags
	cmd := &cobra.Command{
		Use:   "pipeline <task>",
		Short: "Run the five-stage ticketing pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd.Context(), workflow.Invocation{
				Mode:    workflow.ModePipeline,
				Task:    strings.Join(args, " "),
				Options: flags.resolve(cmd),
			})
		},
	}
	addPipelineFlags(cmd, &flags)
	return cmd
}

func proactiveCmd() *cobra.Command {
	var flags optionFlags
	cmd := &cobra.Command{
		Use:   "proactive",
		Short: "Analyze every service with errors in parallel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd.Context(), workflow.Invocation{
				Mode:    workflow.ModeProactive,
				Options: flags.resolve(cmd),
			})
		},
	}
	addPipelineFlags(cmd, &flags)
	return cmd
}

func dailyCmd() *cobra.Command {
	var flags optionFlags
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Run the scheduled analysis once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd.Context(), workflow.Invocation{
				Mode:    workflow.ModeDaily,
				Options: flags.resolve(cmd),
			})
		},
	}
	addPipelineFlags(cmd, &flags)
	return cmd
}

func chatCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd.Context(), workflow.Invocation{
				Mode:      workflow.ModeChat,
				Message:   strings.Join(args, " "),
				SessionID: session,
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session to continue (a new one is created when empty)")
	return cmd
}
