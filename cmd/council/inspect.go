package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/nidhogg/nuka-council/internal/audit"
	"github.com/nidhogg/nuka-council/internal/history"
	"github.com/nidhogg/nuka-council/internal/natsbus"
	"github.com/nidhogg/nuka-council/internal/workflow"
	"github.com/spf13/cobra"
)

var historyCount int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the transcripts of recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		path := cfg.History.Path
		if path == "" {
			path = history.DefaultPath
		}
		file := history.NewFile(path, logger)
		entries, err := file.Recent(historyCount)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "No runs recorded in %s yet. Run 'council run' to start one.\n", file.Path())
			return nil
		}
		for _, e := range entries {
			fmt.Fprintln(out, color.New(color.Bold).Sprintf("%s  %s  %s  %s",
				e.Timestamp.Local().Format(time.DateTime), e.Workflow, e.ThreadID, e.Outcome))
			for _, m := range e.Messages {
				fmt.Fprintf(out, "  %-10s %s\n", m.Role+":", m.Content)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List workflow presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCHAIN\tATTEMPTS\tDESCRIPTION")
		for _, p := range workflow.Presets() {
			chain := append([]string{p.Hierarchy.Generator}, p.Hierarchy.Evaluators...)
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Name, strings.Join(chain, " → "), p.DefaultMaxAttempts, p.Description)
		}
		return w.Flush()
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [thread]",
	Short: "List runs, or the steps of one run, from PostgreSQL",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.History.Enabled = false
		a, err := newApp(cmd.Context(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.close()
		if a.store == nil {
			return errors.New("runs needs database.postgres.dsn")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		if len(args) == 1 {
			steps, err := a.store.Steps(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "#\tAGENT\tACTION\tNEXT\tATTEMPTS\tNOTE")
			for _, s := range steps {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", s.Index, s.Agent, s.Action, s.Next, s.Attempts, s.Note)
			}
			return w.Flush()
		}

		runs, err := a.store.Runs(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "THREAD\tWORKFLOW\tOUTCOME\tSTEPS\tATTEMPTS\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ThreadID, r.Workflow, r.Outcome, r.Steps, r.Attempts,
				r.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var lineageCmd = &cobra.Command{
	Use:   "lineage <thread|agent>",
	Short: "Show the decision chain of a run from Neo4j",
	Long: `Show the decision chain of a run from Neo4j.

With --agent, show how often the named agent took each action across all runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.History.Enabled = false
		a, err := newApp(cmd.Context(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.close()
		if a.lineage == nil {
			return errors.New("lineage needs database.neo4j.uri")
		}

		out := cmd.OutOrStdout()
		if lineageByAgent {
			counts, err := a.lineage.AgentActions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for action, n := range counts {
				fmt.Fprintf(out, "%-10s %d\n", action, n)
			}
			return nil
		}
		nodes, err := a.lineage.Lineage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Fprintf(out, "%3d  %-10s %-9s %s", n.Step, n.Agent, n.Action, n.Note)
			if n.Proposal != "" {
				fmt.Fprintf(out, "  [%s r%d]", n.Proposal, n.Revision)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var lineageByAgent bool

var tailWorkflow string

var tailCmd = &cobra.Command{
	Use:   "tail <thread>",
	Short: "Follow a run started by another process",
	Long: `Follow a run started by another process.

Reads the run's Redis stream when database.redis.stream is enabled,
otherwise subscribes to its NATS subject (needs --workflow).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.History.Enabled = false
		cfg.NATS.Embedded = false
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.close()

		console := audit.NewConsole(cmd.OutOrStdout())
		thread := args[0]

		var events <-chan audit.Event
		switch {
		case a.stream != nil:
			events = a.stream.Subscribe(ctx, thread)
		case a.bus != nil:
			if tailWorkflow == "" {
				return errors.New("tail over NATS needs --workflow")
			}
			ch := make(chan audit.Event, 16)
			sub, err := a.bus.Subscribe(natsbus.SubjectStep(tailWorkflow, thread), func(ev audit.Event) {
				select {
				case ch <- ev:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			events = ch
		default:
			return errors.New("tail needs database.redis.stream or nats.url")
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				console.Print(ev)
				if ev.Final() {
					return nil
				}
			}
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyCount, "n", "n", 5, "number of runs to show")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")
	lineageCmd.Flags().BoolVar(&lineageByAgent, "agent", false, "treat the argument as an agent name")
	tailCmd.Flags().StringVar(&tailWorkflow, "workflow", "", "workflow of the run (NATS only)")
}
