package forge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Command is one structured build step: a program, its arguments, the
// directory to run in and optional per-command environment overrides.
// Keeping this structured (instead of shell text) removes quoting
// hazards; the shell line is derived only at the last moment.
type Command struct {
	Prog string
	Args []string
	Dir  string
	Env  []string // extra KEY=VALUE entries appended to the base env
}

// Result carries the captured output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// CommandError is raised for any nonzero exit. It keeps the last lines
// of stdout plus the full stderr so a failure is diagnosable from the
// log without re-running the build.
type CommandError struct {
	Line       string
	ExitCode   int
	StdoutTail string
	Stderr     string
}

const stdoutTailLines = 50

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FAILED (exit %d): %s", e.ExitCode, e.Line)
	if e.StdoutTail != "" {
		fmt.Fprintf(&b, "\nSTDOUT (last %d lines):\n%s", stdoutTailLines, e.StdoutTail)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "\nSTDERR:\n%s", e.Stderr)
	}
	return b.String()
}

// runner is the seam the orchestrator and acquirers depend on, so tests
// can substitute a recorder.
type runner interface {
	Run(cmd Command) (Result, error)
}

// Executor runs every command inside the bootstrapped MSYS2 shell so the
// toolchain environment (compiler selection, static flags, search paths)
// is honored uniformly. Cancellation of Context kills the full process
// tree of the active child, not just the immediate shell.
type Executor struct {
	Context context.Context
	Shell   string            // msys2_shell.cmd path; empty means direct host execution
	Env     map[string]string // overlay applied on top of the process environment
	Log     *Logger
}

// shellLine renders a Command into a single POSIX shell line with
// minimal quoting: arguments containing shell metacharacters are
// single-quoted.
func (c Command) shellLine() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Prog)
	for _, a := range c.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'$&|;<>()*?[]{}\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (e *Executor) Run(cmd Command) (Result, error) {
	line := cmd.shellLine()
	e.Log.Infof("EXEC: %s", line)

	var c *exec.Cmd
	if e.Shell != "" {
		c = exec.CommandContext(e.Context, e.Shell, "-ucrt64", "-defterm", "-no-start", "-here", "-c", line)
	} else {
		c = exec.CommandContext(e.Context, cmd.Prog, cmd.Args...)
	}
	c.Dir = cmd.Dir
	env := envSlice(e.Env)
	if len(cmd.Env) > 0 {
		env = append(env, cmd.Env...)
	}
	c.Env = env

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start command: %w", err)
	}

	// Watch for cancellation and take the whole child tree down; build
	// tools spawn sub-compilers that outlive the immediate shell.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			killTree(c.Process.Pid)
		case <-done:
		}
	}()

	waitErr := c.Wait()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr == nil {
		return res, nil
	}
	if e.Context.Err() != nil {
		return res, fmt.Errorf("command aborted: %v", e.Context.Err())
	}
	code := 1
	if ee, ok := waitErr.(*exec.ExitError); ok {
		code = ee.ExitCode()
	}
	cmdErr := &CommandError{
		Line:       line,
		ExitCode:   code,
		StdoutTail: tailLines(res.Stdout, stdoutTailLines),
		Stderr:     strings.TrimSpace(res.Stderr),
	}
	e.Log.Errorf("%s", cmdErr.Error())
	return res, cmdErr
}

// killTree terminates pid and all of its descendants.
func killTree(pid int) {
	if runtime.GOOS == "windows" {
		exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
		return
	}
	// Elsewhere (CI smoke runs) the direct child is the best we can do.
	if p, err := os.FindProcess(pid); err == nil {
		p.Kill()
	}
}

// tailLines returns the last n lines of s, trimmed.
func tailLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// splitFlags splits an opaque flag template into arguments, honoring
// single and double quotes so values like -DCMAKE_INSTALL_PREFIX="path
// with spaces" survive intact.
func splitFlags(s string) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	flushed := true
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			flushed = false
		case ch == ' ' || ch == '\t':
			if !flushed || cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
				flushed = true
			}
		default:
			cur.WriteByte(ch)
			flushed = false
		}
	}
	if !flushed || cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
