package audit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
)

var messageIcons = map[orchestrator.MessageType]string{
	orchestrator.MessageRequest:  "📋",
	orchestrator.MessageApproval: "✅",
	orchestrator.MessageStatus:   "📊",
	orchestrator.MessageNote:     "📝",
}

func actionColor(a orchestrator.Action) *color.Color {
	switch a {
	case orchestrator.ActionApprove:
		return color.New(color.FgGreen, color.Bold)
	case orchestrator.ActionReject:
		return color.New(color.FgRed, color.Bold)
	case orchestrator.ActionRevise:
		return color.New(color.FgYellow)
	case orchestrator.ActionForward, orchestrator.ActionEscalate:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgMagenta)
	}
}

// Console prints a human-readable transcript of each step.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes the transcript to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func label(name string) string {
	return fmt.Sprintf("%-10s │", strings.ToUpper(name))
}

func (c *Console) Record(_ context.Context, step orchestrator.Step) error {
	return c.Print(FromStep(step))
}

// Print writes one event, followed by the verdict banner when it is final.
func (c *Console) Print(ev Event) error {
	var b strings.Builder

	if ev.Action == orchestrator.ActionForward && ev.Revision > 0 && ev.Author == ev.Agent {
		fmt.Fprintf(&b, "%s 💡 %s\n", label(ev.Agent), ev.Proposal)
	}
	for _, m := range ev.Messages {
		fmt.Fprintf(&b, "%s %s SEND → %s [%s]\n", label(ev.Agent), messageIcons[m.Type], strings.ToUpper(m.To), m.Type)
	}
	if ev.Action != "" {
		line := actionColor(ev.Action).Sprint(strings.ToUpper(string(ev.Action)))
		if ev.Score != nil {
			line += fmt.Sprintf(" (score %g)", *ev.Score)
		}
		if ev.Note != "" {
			line += " " + ev.Note
		}
		fmt.Fprintf(&b, "%s %s\n", label(ev.Agent), line)
	}
	if ev.Final() {
		c.banner(&b, ev)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *Console) banner(b *strings.Builder, ev Event) {
	rule := strings.Repeat("═", 60)
	outcome := string(ev.Outcome)
	switch ev.Outcome {
	case orchestrator.OutcomeApproved:
		outcome = color.New(color.FgGreen, color.Bold).Sprint(strings.ToUpper(outcome))
	case orchestrator.OutcomeRejected, orchestrator.OutcomeMaxAttempts:
		outcome = color.New(color.FgRed, color.Bold).Sprint(strings.ToUpper(outcome))
	default:
		outcome = color.New(color.FgMagenta).Sprint(strings.ToUpper(outcome))
	}
	fmt.Fprintln(b, rule)
	fmt.Fprintf(b, "Proposal : %s\n", ev.Proposal)
	fmt.Fprintf(b, "Outcome  : %s after %d step(s), %d attempt(s)\n", outcome, ev.Index+1, ev.Attempts)
	switch {
	case ev.Verdict != nil:
		fmt.Fprintf(b, "Decision : %s (%s)\n", ev.Verdict.Note, ev.Verdict.DecidedBy)
	case ev.Note != "":
		fmt.Fprintf(b, "Decision : %s (%s)\n", ev.Note, ev.Agent)
	}
	fmt.Fprintln(b, rule)
}
