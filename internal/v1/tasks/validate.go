package tasks

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidationResult is the outcome of feeding one input string to a task
// step. Accepted means the step matched; Completed means it was the final
// step; NextStep is the index the player should attempt next.
type ValidationResult struct {
	Accepted  bool   `json:"accepted"`
	Completed bool   `json:"completed"`
	NextStep  int    `json:"nextStep"`
	Message   string `json:"message"`
}

// Validate checks input against the given step of a task. Step indexes are
// zero-based. Unknown tasks and out-of-range steps are rejected, never
// panic.
func (c *Catalog) Validate(taskID, input string, step int) ValidationResult {
	def, ok := c.defs[taskID]
	if !ok {
		return ValidationResult{Message: fmt.Sprintf("unknown task %q", taskID)}
	}
	if step < 0 || step >= len(def.Steps) {
		return ValidationResult{Message: fmt.Sprintf("task %q has no step %d", taskID, step)}
	}

	s := def.Steps[step]
	if !matches(s, input) {
		return ValidationResult{
			NextStep: step,
			Message:  fmt.Sprintf("that didn't work: %s", s.Prompt),
		}
	}

	if step == len(def.Steps)-1 {
		return ValidationResult{
			Accepted:  true,
			Completed: true,
			NextStep:  step + 1,
			Message:   fmt.Sprintf("%s complete", def.DisplayName),
		}
	}
	return ValidationResult{
		Accepted: true,
		NextStep: step + 1,
		Message:  fmt.Sprintf("step %d of %d done, next: %s", step+1, len(def.Steps), def.Steps[step+1].Prompt),
	}
}

func matches(s Step, input string) bool {
	switch s.Mode {
	case MatchDigits:
		return digitsOf(input) == digitsOf(s.Answer)
	default:
		return strings.Contains(strings.ToLower(input), strings.ToLower(s.Answer))
	}
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
