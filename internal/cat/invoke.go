package cat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one external CLI invocation.
const DefaultTimeout = 600 * time.Second

// ErrBinaryNotFound reports a missing CLI binary. Distinct so callers can
// render it as a persona-voiced hint instead of a generic failure.
var ErrBinaryNotFound = errors.New("cli binary not found")

// ErrEmptyOutput reports a successful invocation that produced no text.
var ErrEmptyOutput = errors.New("cli produced no output")

// Invoker runs one external assistant process with a prompt on stdin and
// returns its raw stdout.
type Invoker interface {
	// Invoke blocks until the process exits or ctx/timeout fires.
	Invoke(ctx context.Context, command []string, prompt, workDir string) (string, error)

	// Stream delivers raw stdout chunks as they arrive via onChunk and
	// returns the full concatenated output. Concatenating the chunks
	// always equals the Invoke output for the same process.
	Stream(ctx context.Context, command []string, prompt, workDir string, onChunk func(chunk string)) (string, error)
}

// ExecInvoker is the production Invoker backed by os/exec.
type ExecInvoker struct {
	Timeout time.Duration
}

func (e ExecInvoker) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

func (e ExecInvoker) Invoke(ctx context.Context, command []string, prompt, workDir string) (string, error) {
	if len(command) == 0 {
		return "", errors.New("empty invocation command")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	switch {
	case err == nil:
		if strings.TrimSpace(out) == "" {
			return "", ErrEmptyOutput
		}
		return out, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, fmt.Errorf("%s timed out after %s: %w", command[0], e.timeout(), context.DeadlineExceeded)
	case errors.Is(err, exec.ErrNotFound):
		return "", fmt.Errorf("%s: %w", command[0], ErrBinaryNotFound)
	default:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return out, fmt.Errorf("%s failed: %s", command[0], msg)
	}
}

func (e ExecInvoker) Stream(ctx context.Context, command []string, prompt, workDir string, onChunk func(chunk string)) (string, error) {
	if len(command) == 0 {
		return "", errors.New("empty invocation command")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", command[0], ErrBinaryNotFound)
		}
		return "", fmt.Errorf("start %s: %w", command[0], err)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		chunk := scanner.Text() + "\n"
		full.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	out := full.String()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, fmt.Errorf("%s timed out after %s: %w", command[0], e.timeout(), context.DeadlineExceeded)
	case scanErr != nil:
		return out, fmt.Errorf("read %s output: %w", command[0], scanErr)
	case waitErr != nil:
		if strings.TrimSpace(out) != "" {
			// Partial output beats a raw exit error.
			return out, nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return out, fmt.Errorf("%s failed: %s", command[0], msg)
	case strings.TrimSpace(out) == "":
		return "", ErrEmptyOutput
	default:
		return out, nil
	}
}
