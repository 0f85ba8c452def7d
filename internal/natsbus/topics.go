package natsbus

import (
	"fmt"
	"strings"
)

// Subject patterns for run events.

// SubjectStep carries every step of a run.
func SubjectStep(workflow, threadID string) string {
	return fmt.Sprintf("council.%s.%s.step", token(workflow), token(threadID))
}

// SubjectDone carries the final event of a run.
func SubjectDone(workflow, threadID string) string {
	return fmt.Sprintf("council.%s.%s.done", token(workflow), token(threadID))
}

// SubjectAllSteps matches steps of every run of a workflow.
func SubjectAllSteps(workflow string) string {
	return fmt.Sprintf("council.%s.*.step", token(workflow))
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
