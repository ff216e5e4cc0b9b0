// Package pipeline runs strategies: ordered lists of steps, each either an
// external command or a built-in file action.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/blackwell-systems/ciwarden/internal/project"
)

var (
	// ErrUnknownStrategy is returned for a strategy name with no catalog entry.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrStepFailed wraps the failure of a step that is not tolerated.
	ErrStepFailed = errors.New("step failed")
	// ErrChangeLimit is returned by a file action once the run has modified
	// max_file_changes files.
	ErrChangeLimit = errors.New("file change limit reached")
)

// Step conditions accepted in When.
const (
	WhenSupawright   = "supawright"
	WhenModulePrefix = "module:"
)

// Step is one unit of a strategy. Exactly one of Command and Action is set.
type Step struct {
	Name    string        `yaml:"name" json:"name"`
	Command []string      `yaml:"command,omitempty" json:"command,omitempty"`
	Action  string        `yaml:"action,omitempty" json:"action,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Tolerate lets the strategy continue after this step fails.
	Tolerate bool `yaml:"tolerate,omitempty" json:"tolerate,omitempty"`
	// When lists conditions that must all hold for the step to run.
	When []string `yaml:"when,omitempty" json:"when,omitempty"`
}

// Line returns the command line, or "action:<name>" for built-in actions.
func (s Step) Line() string {
	if s.Action != "" {
		return "action:" + s.Action
	}
	return strings.Join(s.Command, " ")
}

// Validate checks the step shape. Action names are checked against the
// registered actions.
func (s Step) Validate() error {
	if s.Name == "" {
		return errors.New("step has no name")
	}
	switch {
	case len(s.Command) == 0 && s.Action == "":
		return fmt.Errorf("step %q: command or action is required", s.Name)
	case len(s.Command) > 0 && s.Action != "":
		return fmt.Errorf("step %q: command and action are mutually exclusive", s.Name)
	case s.Action != "":
		if _, ok := actions[s.Action]; !ok {
			return fmt.Errorf("step %q: unknown action %q", s.Name, s.Action)
		}
	}
	if s.Timeout < 0 {
		return fmt.Errorf("step %q: negative timeout", s.Name)
	}
	for _, w := range s.When {
		if err := validCondition(w); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	return nil
}

func validCondition(w string) error {
	if w == WhenSupawright {
		return nil
	}
	if m, ok := strings.CutPrefix(w, WhenModulePrefix); ok {
		if slices.Contains([]string{project.ModuleFrontend, project.ModuleBackend, project.ModuleDatabase}, m) {
			return nil
		}
	}
	return fmt.Errorf("unknown condition %q", w)
}

// skipReason returns the first condition in When that s does not meet, or
// "" when the step should run.
func (s Step) skipReason(st project.State) string {
	for _, w := range s.When {
		if w == WhenSupawright {
			if !st.HasSupawright {
				return "supawright not installed"
			}
			continue
		}
		if m, ok := strings.CutPrefix(w, WhenModulePrefix); ok && !st.HasModule(m) {
			return m + " not affected"
		}
	}
	return ""
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name       string        `json:"name"`
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	Tolerated  bool          `json:"tolerated,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Changed    []string      `json:"changed,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Output     string        `json:"-"`
}

// Failed reports whether the step ran and did not succeed.
func (r StepResult) Failed() bool { return !r.Skipped && r.Error != "" }

// String renders a one-line summary.
func (r StepResult) String() string {
	switch {
	case r.Skipped:
		return fmt.Sprintf("%s: skipped (%s)", r.Name, r.SkipReason)
	case r.Failed() && r.Tolerated:
		return fmt.Sprintf("%s: failed, tolerated (%s)", r.Name, r.Error)
	case r.Failed():
		return fmt.Sprintf("%s: failed (%s)", r.Name, r.Error)
	default:
		return r.Name + ": ok"
	}
}

// StepError is returned by Execute when an intolerant step fails.
type StepError struct {
	Strategy string
	Result   StepResult
}

func (e *StepError) Error() string {
	return fmt.Sprintf("strategy %s: step %q failed: %s", e.Strategy, e.Result.Name, e.Result.Error)
}

// Unwrap lets errors.Is match ErrStepFailed.
func (e *StepError) Unwrap() error { return ErrStepFailed }
