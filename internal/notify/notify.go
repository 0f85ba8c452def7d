// Package notify announces finished runs on chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-council/internal/audit"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// Channel is one destination for verdict announcements.
type Channel interface {
	Platform() string
	Post(ctx context.Context, text string) error
}

// Notifier is an orchestrator.Recorder that posts a summary of every
// finished run to its channels. Intermediate steps are ignored.
type Notifier struct {
	channels []Channel
	only     map[orchestrator.Outcome]bool
	logger   *zap.Logger
}

// NewNotifier posts to channels. When outcomes is non-empty only runs
// ending in one of them are announced.
func NewNotifier(channels []Channel, outcomes []orchestrator.Outcome, logger *zap.Logger) *Notifier {
	n := &Notifier{channels: channels, logger: logger}
	if len(outcomes) > 0 {
		n.only = make(map[orchestrator.Outcome]bool, len(outcomes))
		for _, o := range outcomes {
			n.only[o] = true
		}
	}
	return n
}

// Format renders the announcement for a final event.
func Format(ev audit.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s] run %s %s*\n", ev.Workflow, ev.ThreadID, strings.ToUpper(string(ev.Outcome)))
	if ev.Proposal != "" {
		fmt.Fprintf(&b, "Proposal: %s (revision %d)\n", ev.Proposal, ev.Revision)
	}
	switch {
	case ev.Verdict != nil:
		fmt.Fprintf(&b, "Decision: %s (by %s)\n", ev.Verdict.Note, ev.Verdict.DecidedBy)
	case ev.Note != "":
		fmt.Fprintf(&b, "Decision: %s (by %s)\n", ev.Note, ev.Agent)
	}
	fmt.Fprintf(&b, "Steps: %d, attempts: %d", ev.Index+1, ev.Attempts)
	return b.String()
}

func (n *Notifier) Record(ctx context.Context, step orchestrator.Step) error {
	if !step.Final() || len(n.channels) == 0 {
		return nil
	}
	if n.only != nil && !n.only[step.State.Outcome] {
		return nil
	}
	text := Format(audit.FromStep(step))

	n.logger.Info("announcing verdict",
		zap.String("thread", step.ThreadID),
		zap.String("outcome", string(step.State.Outcome)),
		zap.Int("channels", len(n.channels)))

	var errs []error
	for _, ch := range n.channels {
		if err := ch.Post(ctx, text); err != nil {
			n.logger.Warn("notify failed", zap.String("platform", ch.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Platform(), err))
		}
	}
	return errors.Join(errs...)
}
