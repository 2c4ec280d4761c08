// Package gitops wraps the git and gh CLIs for the PR-producing
// collaboration pipeline. Every command runs against an explicit working
// directory with a per-command timeout; failures come back as errors the
// orchestrator downgrades to warnings.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds one git or gh invocation.
const DefaultTimeout = 60 * time.Second

// DefaultMainBranch is the branch /merge switches back to.
const DefaultMainBranch = "main"

var prNumberRe = regexp.MustCompile(`/pull/(\d+)`)

// Runner executes one command in dir and returns exit code plus captured
// output. Split out so tests can script command results.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (rc int, stdout, stderr string, err error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	rc := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		rc = exitErr.ExitCode()
		err = nil
	}
	return rc, strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// Options configures a Client.
type Options struct {
	MainBranch string
	Timeout    time.Duration
	Runner     Runner
	Logger     *slog.Logger
}

// Client issues git and gh commands. Zero-config construction via
// New(Options{}) uses main branch, 60s timeout, os/exec.
type Client struct {
	mainBranch string
	timeout    time.Duration
	runner     Runner
	logger     *slog.Logger
}

// New builds a Client.
func New(opts Options) *Client {
	c := &Client{
		mainBranch: opts.MainBranch,
		timeout:    opts.Timeout,
		runner:     opts.Runner,
		logger:     opts.Logger,
	}
	if c.mainBranch == "" {
		c.mainBranch = DefaultMainBranch
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.runner == nil {
		c.runner = ExecRunner{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// run executes one command with the per-command timeout applied.
func (c *Client) run(ctx context.Context, dir string, args ...string) (int, string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.logger.Debug("vcs command", "dir", dir, "args", args)
	return c.runner.Run(ctx, dir, args...)
}

// EnsureRepo makes dir a git repository, running git init when it is not
// one already. Reports whether a new repo was created.
func (c *Client) EnsureRepo(ctx context.Context, dir string) (bool, error) {
	rc, _, _, err := c.run(ctx, dir, "git", "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, fmt.Errorf("git rev-parse: %w", err)
	}
	if rc == 0 {
		return false, nil
	}
	rc, _, stderr, err := c.run(ctx, dir, "git", "init")
	if err != nil {
		return false, fmt.Errorf("git init: %w", err)
	}
	if rc != 0 {
		return false, fmt.Errorf("git init failed: %s", stderr)
	}
	return true, nil
}

// HasRemote reports whether origin is configured.
func (c *Client) HasRemote(ctx context.Context, dir string) bool {
	rc, out, _, err := c.run(ctx, dir, "git", "remote", "get-url", "origin")
	return err == nil && rc == 0 && out != ""
}

// SetupRepoForPR prepares dir for the PR flow: git init if needed, an
// initial commit if the repo has none, and a GitHub remote created via gh
// when origin is missing. Returns the remote URL.
func (c *Client) SetupRepoForPR(ctx context.Context, dir, repoName string) (string, error) {
	if _, err := c.EnsureRepo(ctx, dir); err != nil {
		return "", err
	}

	// A branch cannot be created off an unborn HEAD.
	rc, _, _, err := c.run(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	if rc != 0 {
		if _, _, _, err := c.run(ctx, dir, "git", "add", "-A"); err != nil {
			return "", fmt.Errorf("git add: %w", err)
		}
		rc, _, stderr, err := c.run(ctx, dir, "git", "commit", "--allow-empty", "-m", "init: meowdev workspace")
		if err != nil {
			return "", fmt.Errorf("git commit: %w", err)
		}
		if rc != 0 {
			return "", fmt.Errorf("initial commit failed: %s", stderr)
		}
	}

	if !c.HasRemote(ctx, dir) {
		rc, out, stderr, err := c.run(ctx, dir,
			"gh", "repo", "create", repoName, "--public", "--source", ".", "--remote", "origin", "--push")
		if err != nil {
			return "", fmt.Errorf("gh repo create: %w", err)
		}
		if rc != 0 {
			return "", fmt.Errorf("create github repo failed: %s", stderr)
		}
		return out, nil
	}

	_, url, _, err := c.run(ctx, dir, "git", "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("git remote get-url: %w", err)
	}
	return url, nil
}

// CreateBranch creates and switches to a new branch.
func (c *Client) CreateBranch(ctx context.Context, name, dir string) error {
	rc, _, stderr, err := c.run(ctx, dir, "git", "checkout", "-b", name)
	if err != nil {
		return fmt.Errorf("git checkout -b: %w", err)
	}
	if rc != 0 {
		return fmt.Errorf("create branch failed: %s", stderr)
	}
	return nil
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	_, out, _, err := c.run(ctx, dir, "git", "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("git branch --show-current: %w", err)
	}
	return out, nil
}

// SwitchToMain checks out the main branch and pulls. Pull failures are
// ignored; local-only repos have nothing to pull from.
func (c *Client) SwitchToMain(ctx context.Context, dir string) (string, error) {
	rc, _, stderr, err := c.run(ctx, dir, "git", "checkout", c.mainBranch)
	if err != nil {
		return "", fmt.Errorf("git checkout: %w", err)
	}
	if rc != 0 {
		return "", fmt.Errorf("checkout %s failed: %s", c.mainBranch, stderr)
	}
	if _, _, _, err := c.run(ctx, dir, "git", "pull", "origin", c.mainBranch); err != nil {
		return "", fmt.Errorf("git pull: %w", err)
	}
	return c.mainBranch, nil
}

// CommitAll stages everything and commits, returning the short hash.
func (c *Client) CommitAll(ctx context.Context, message, dir string) (string, error) {
	if _, _, _, err := c.run(ctx, dir, "git", "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}
	rc, _, stderr, err := c.run(ctx, dir, "git", "commit", "-m", message, "--allow-empty")
	if err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	if rc != 0 {
		return "", fmt.Errorf("commit failed: %s", stderr)
	}
	_, hash, _, err := c.run(ctx, dir, "git", "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return hash, nil
}

// PushBranch pushes the current branch to origin and returns its name.
func (c *Client) PushBranch(ctx context.Context, dir string) (string, error) {
	rc, _, stderr, err := c.run(ctx, dir, "git", "push", "-u", "origin", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git push: %w", err)
	}
	if rc != 0 {
		return "", fmt.Errorf("push failed: %s", stderr)
	}
	return c.CurrentBranch(ctx, dir)
}

// CreatePR opens a pull request and returns its URL and number, parsed
// from the URL gh prints.
func (c *Client) CreatePR(ctx context.Context, title, body, dir string) (string, int, error) {
	rc, out, stderr, err := c.run(ctx, dir, "gh", "pr", "create", "--title", title, "--body", body)
	if err != nil {
		return "", 0, fmt.Errorf("gh pr create: %w", err)
	}
	if rc != 0 {
		return "", 0, fmt.Errorf("create pr failed: %s", stderr)
	}
	url := strings.TrimSpace(out)
	number := 0
	if m := prNumberRe.FindStringSubmatch(url); m != nil {
		number, _ = strconv.Atoi(m[1])
	}
	return url, number, nil
}

// PRDiff fetches the diff of a pull request.
func (c *Client) PRDiff(ctx context.Context, number int, dir string) (string, error) {
	rc, out, stderr, err := c.run(ctx, dir, "gh", "pr", "diff", strconv.Itoa(number))
	if err != nil {
		return "", fmt.Errorf("gh pr diff: %w", err)
	}
	if rc != 0 {
		return "", fmt.Errorf("pr diff failed: %s", stderr)
	}
	return out, nil
}

// AddPRComment posts a review comment on the PR, attributed to a cat.
func (c *Client) AddPRComment(ctx context.Context, number int, body, author, dir string) error {
	comment := fmt.Sprintf("**%s (Review):**\n\n%s", author, body)
	rc, _, stderr, err := c.run(ctx, dir, "gh", "pr", "comment", strconv.Itoa(number), "--body", comment)
	if err != nil {
		return fmt.Errorf("gh pr comment: %w", err)
	}
	if rc != 0 {
		return fmt.Errorf("add pr comment failed: %s", stderr)
	}
	return nil
}

// MergePR squash-merges the PR and deletes its branch, returning gh's
// merge report.
func (c *Client) MergePR(ctx context.Context, number int, dir string) (string, error) {
	rc, out, stderr, err := c.run(ctx, dir, "gh", "pr", "merge", strconv.Itoa(number), "--squash", "--delete-branch")
	if err != nil {
		return "", fmt.Errorf("gh pr merge: %w", err)
	}
	if rc != 0 {
		return "", fmt.Errorf("merge pr failed: %s", stderr)
	}
	if out == "" {
		out = fmt.Sprintf("PR #%d merged", number)
	}
	return out, nil
}
