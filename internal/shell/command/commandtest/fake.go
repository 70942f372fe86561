// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/artpar/stackship/internal/shell/command"
)

// Response is the scripted outcome of a matching command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type rule struct {
	prefix string
	resp   Response
}

// Runner answers commands from a script and records every call.
// A command matches a rule when its command line starts with the rule prefix;
// the longest matching prefix wins. Unmatched commands succeed with no output.
type Runner struct {
	mu    sync.Mutex
	rules []rule
	calls []command.Command
}

// NewRunner creates an empty scripted runner.
func NewRunner() *Runner {
	return &Runner{}
}

// On scripts the response for command lines starting with prefix.
func (r *Runner) On(prefix string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, resp: resp})
	return r
}

// Run implements command.Runner.
func (r *Runner) Run(ctx context.Context, cmd command.Command) (command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)

	if err := ctx.Err(); err != nil {
		return command.Result{ExitCode: command.NoExitStatus}, &command.Error{
			Command: cmd, ExitCode: command.NoExitStatus, Err: err,
		}
	}

	line := cmd.String()
	var match *rule
	for i := range r.rules {
		if strings.HasPrefix(line, r.rules[i].prefix) {
			if match == nil || len(r.rules[i].prefix) > len(match.prefix) {
				match = &r.rules[i]
			}
		}
	}
	if match == nil {
		return command.Result{}, nil
	}

	result := command.Result{
		Stdout:   match.resp.Stdout,
		Stderr:   match.resp.Stderr,
		ExitCode: match.resp.ExitCode,
	}
	if match.resp.ExitCode != 0 {
		return result, &command.Error{
			Command:  cmd,
			ExitCode: match.resp.ExitCode,
			Stderr:   match.resp.Stderr,
		}
	}
	return result, nil
}

// Calls returns the command lines run so far, in order.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.String())
	}
	return out
}

// Commands returns the recorded commands, in order.
func (r *Runner) Commands() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Command(nil), r.calls...)
}

// Count returns how many recorded command lines start with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, line := range r.Calls() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
