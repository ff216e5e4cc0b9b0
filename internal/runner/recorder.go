package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Call is one invocation captured by Recorder.
type Call struct {
	Dir     string
	Args    []string
	Timeout time.Duration
}

// Line returns the call's command line.
func (c Call) Line() string { return strings.Join(c.Args, " ") }

// Response scripts what Recorder returns for a command line.
type Response struct {
	ExitCode int
	Output   string
	TimedOut bool
	Err      error
	// Hook runs before the response is returned, e.g. to mutate the tree.
	Hook func(dir string)
}

// Recorder is a fake Runner that never starts a process. Commands whose line
// matches a scripted prefix get that response; all others succeed.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]Response
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{responses: make(map[string]Response)}
}

// On scripts the response for command lines starting with prefix. The
// longest matching prefix wins.
func (r *Recorder) On(prefix string, resp Response) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = resp
	return r
}

// Fail is shorthand for a non-zero exit with output.
func (r *Recorder) Fail(prefix string, exitCode int, output string) *Recorder {
	return r.On(prefix, Response{ExitCode: exitCode, Output: output})
}

// Missing scripts prefix as a tool that is not installed.
func (r *Recorder) Missing(prefix string) *Recorder {
	return r.On(prefix, Response{ExitCode: -1, Err: fmt.Errorf("%s: %w", prefix, ErrNotFound)})
}

// Run implements Runner.
func (r *Recorder) Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Command: args, ExitCode: -1}, err
	}
	call := Call{Dir: dir, Args: append([]string(nil), args...), Timeout: timeout}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	resp, ok := r.match(call.Line())
	r.mu.Unlock()

	if ok && resp.Hook != nil {
		resp.Hook(dir)
	}
	res := Result{Command: call.Args, ExitCode: resp.ExitCode, Output: resp.Output, TimedOut: resp.TimedOut}
	return res, resp.Err
}

func (r *Recorder) match(line string) (Response, bool) {
	best, found := "", false
	for prefix := range r.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		return Response{}, false
	}
	return r.responses[best], true
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns the recorded command lines in order.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}

// Reset forgets recorded calls but keeps scripted responses.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
