package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/nidhogg/nuka-council/internal/agent"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runThread      string
	runTitle       string
	runDescription string
	runPriority    string
	runSeed        uint64
	runMaxAttempts int
)

var runCmd = &cobra.Command{
	Use:   "run [workflow]",
	Short: "Run a workflow to its verdict",
	Long: `Run a workflow preset and print every step as it happens.

Presets:
  school      student proposes, teacher and principal judge by keywords
  school-llm  the same chain with every role played by an LLM
  office      employee request escalated through manager, director and CEO

The workflow defaults to workflow.name from the config. The run is
checkpointed after every step; interrupt it and continue with 'council resume'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVar(&runThread, "thread", "", "thread id (default: random)")
	runCmd.Flags().StringVar(&runTitle, "title", "", "office: task title")
	runCmd.Flags().StringVar(&runDescription, "description", "", "office: task description")
	runCmd.Flags().StringVar(&runPriority, "priority", "", "office: task priority (low, medium, high)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "fix random draws (0 keeps workflow.seed)")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "override the attempt budget")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if runSeed != 0 {
		cfg.Workflow.Seed = runSeed
	}
	if runMaxAttempts != 0 {
		cfg.Workflow.MaxAttempts = runMaxAttempts
	}

	req := workflow.RunRequest{Workflow: cfg.Workflow.Name, ThreadID: runThread}
	if len(args) == 1 {
		req.Workflow = args[0]
	}
	if runTitle != "" || runDescription != "" || runPriority != "" {
		task, err := taskFromFlags()
		if err != nil {
			return err
		}
		req.Task = task
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.service.Invoke(ctx, req)
	return report(cmd, res, err)
}

func taskFromFlags() (*agent.Task, error) {
	task := agent.DefaultTask
	if runTitle != "" {
		task.Title = runTitle
	}
	if runDescription != "" {
		task.Description = runDescription
	}
	if runPriority != "" {
		p := orchestrator.Priority(runPriority)
		switch p {
		case orchestrator.PriorityLow, orchestrator.PriorityMedium, orchestrator.PriorityHigh:
			task.Priority = p
		default:
			return nil, fmt.Errorf("priority %q is not one of low, medium, high", runPriority)
		}
	}
	return &task, nil
}

// report prints where an interrupted run can be picked up again.
func report(cmd *cobra.Command, res *orchestrator.Result, err error) error {
	if res == nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintln(out, color.RedString("Run %s stopped after %d step(s): %v", res.ThreadID, len(res.Steps), err))
		fmt.Fprintf(out, "Continue with: council resume %s\n", res.ThreadID)
		return err
	}
	fmt.Fprintf(out, "Thread   : %s\n", res.ThreadID)
	return nil
}

var resumeCmd = &cobra.Command{
	Use:   "resume <thread>",
	Short: "Continue a checkpointed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.close()

		logger.Info("Resuming run", zap.String("thread", args[0]))
		res, err := a.service.ResumeAndCollect(ctx, args[0])
		return report(cmd, res, err)
	},
}
