/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package gitcli implements gateway.Gateway by running the git executable.
// Mutations go through the command line so behavior matches what users get
// from git itself; read-only queries open the repository with go-git.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/solarmonkey/checkout/gateway"
	"github.com/solarmonkey/checkout/retry"
)

const (
	// MinimumVersion is the oldest git that supports every command used here.
	MinimumVersion = "2.18.0"
	// MinimumLFSVersion is the oldest git-lfs accepted when LFS is enabled.
	MinimumLFSVersion = "2.1.0"
)

var (
	// ErrGitNotFound is returned when no git executable is on PATH.
	ErrGitNotFound = errors.New("unable to locate executable file: git")
	// ErrVersionTooOld is returned when git or git-lfs is older than required.
	ErrVersionTooOld = errors.New("version too old")
)

var (
	versionRE    = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)
	lfsVersionRE = regexp.MustCompile(`git-lfs/(\d+\.\d+(\.\d+)?)`)
	symrefRE     = regexp.MustCompile(`(?m)^ref:\s+(refs/heads/\S+)\s+HEAD$`)
)

// ExecError describes a failed git invocation.
type ExecError struct {
	Args   []string
	Err    error
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	b := new(strings.Builder)
	b.WriteString("git ")
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code, or -1 if the process did not exit.
func (e *ExecError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry policy for network operations.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithEnv appends KEY=VALUE pairs to the environment of every command.
func WithEnv(kv ...string) Option {
	return func(c *Client) { c.extraEnv = append(c.extraEnv, kv...) }
}

// Client runs git commands in one working directory.
type Client struct {
	gitPath  string
	dir      string
	lfs      bool
	version  *semver.Version
	extraEnv []string
	env      []string
	retry    retry.Config
}

var _ gateway.Gateway = (*Client)(nil)

// New locates git, verifies its version (and git-lfs's when lfs is set), and
// returns a Client bound to dir.
func New(ctx context.Context, dir string, lfs bool, opts ...Option) (*Client, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGitNotFound, err)
	}

	c := &Client{
		gitPath: p,
		dir:     dir,
		lfs:     lfs,
		retry:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.env = c.environ(nil)

	out, err := c.run(ctx, "version")
	if err != nil {
		return nil, err
	}
	v, err := parseVersion(versionRE, out, 0)
	if err != nil {
		return nil, fmt.Errorf("parsing git version: %w", err)
	}
	if v.LessThan(semver.MustParse(MinimumVersion)) {
		return nil, fmt.Errorf("%w: minimum required git version is %s, your git (%s) is %s",
			ErrVersionTooOld, MinimumVersion, p, v)
	}
	c.version = v

	if lfs {
		out, err := c.run(ctx, "lfs", "version")
		if err != nil {
			return nil, err
		}
		lv, err := parseVersion(lfsVersionRE, out, 1)
		if err != nil {
			return nil, fmt.Errorf("parsing git-lfs version: %w", err)
		}
		if lv.LessThan(semver.MustParse(MinimumLFSVersion)) {
			return nil, fmt.Errorf("%w: minimum required git-lfs version is %s, your git-lfs is %s",
				ErrVersionTooOld, MinimumLFSVersion, lv)
		}
	}

	c.env = c.environ([]string{"GIT_HTTP_USER_AGENT=git/" + v.String() + " (checkout)"})
	clog.FromContext(ctx).Debugf("Using git %s at %s", v, p)
	return c, nil
}

func parseVersion(re *regexp.Regexp, out string, group int) (*semver.Version, error) {
	m := re.FindStringSubmatch(out)
	if len(m) <= group {
		return nil, fmt.Errorf("no version in %q", strings.TrimSpace(out))
	}
	return semver.NewVersion(m[group])
}

func (c *Client) environ(extra []string) []string {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GCM_INTERACTIVE=Never")
	if c.lfs {
		env = append(env, "GIT_LFS_SKIP_SMUDGE=1")
	}
	env = append(env, extra...)
	return append(env, c.extraEnv...)
}

// Version is the detected git version.
func (c *Client) Version() *semver.Version {
	return c.version
}

// run runs a git command and returns its stdout.
// Omit the 'git' part of the command.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	cmd.Dir = c.dir
	cmd.Env = c.env

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	clog.FromContext(ctx).Debugf("Running git %s", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return "", &ExecError{
			Args:   args,
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return stdout.String(), nil
}

func (c *Client) runWithRetry(ctx context.Context, operation string, args ...string) (string, error) {
	return retry.WithBackoff(ctx, c.retry, operation, retry.Always, func() (string, error) {
		return c.run(ctx, args...)
	})
}

func (c *Client) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(c.dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository in %s: %w", c.dir, err)
	}
	return repo, nil
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.run(ctx, "init")
	return err
}

func (c *Client) RemoteAdd(ctx context.Context, name, url string) error {
	_, err := c.run(ctx, "remote", "add", name, url)
	return err
}

func (c *Client) RemoteDefaultBranch(ctx context.Context, url string) (string, error) {
	out, err := c.runWithRetry(ctx, "git ls-remote", "ls-remote", "--quiet", "--exit-code", "--symref", url, "HEAD")
	if err != nil {
		return "", err
	}
	m := symrefRE.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected output when retrieving default branch: %s", strings.TrimSpace(out))
	}
	return m[1], nil
}

func (c *Client) Fetch(ctx context.Context, refSpecs []string, depth int) error {
	args := []string{"-c", "protocol.version=2", "fetch", "--no-tags", "--prune", "--progress", "--no-recurse-submodules"}
	if depth > 0 {
		args = append(args, "--depth="+strconv.Itoa(depth))
	} else if _, err := os.Stat(filepath.Join(c.dir, ".git", "shallow")); err == nil {
		args = append(args, "--unshallow")
	}
	args = append(args, "origin")
	args = append(args, refSpecs...)

	_, err := c.runWithRetry(ctx, "git fetch", args...)
	return err
}

func (c *Client) Checkout(ctx context.Context, ref, startPoint string) error {
	args := []string{"checkout", "--progress", "--force"}
	if startPoint != "" {
		args = append(args, "-B", ref, startPoint)
	} else {
		args = append(args, ref)
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) CheckoutDetach(ctx context.Context) error {
	_, err := c.run(ctx, "checkout", "--detach")
	return err
}

func (c *Client) IsDetached(context.Context) (bool, error) {
	repo, err := c.open()
	if err != nil {
		return false, err
	}
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return false, fmt.Errorf("reading HEAD: %w", err)
	}
	return head.Type() == plumbing.HashReference, nil
}

func (c *Client) BranchList(_ context.Context, remote bool) ([]string, error) {
	repo, err := c.open()
	if err != nil {
		return nil, err
	}
	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		switch {
		case remote && strings.HasPrefix(name.String(), "refs/remotes/origin/"):
			branches = append(branches, name.Short())
		case !remote && name.IsBranch():
			branches = append(branches, name.Short())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return branches, nil
}

func (c *Client) BranchDelete(ctx context.Context, remote bool, branch string) error {
	args := []string{"branch", "--delete", "--force"}
	if remote {
		args = append(args, "--remotes")
	}
	_, err := c.run(ctx, append(args, branch)...)
	return err
}

func (c *Client) TagList(context.Context) ([]string, error) {
	repo, err := c.open()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	var tags []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags = append(tags, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}

func (c *Client) TryClean(ctx context.Context) error {
	_, err := c.run(ctx, "clean", "-ffdx")
	return err
}

func (c *Client) TryReset(ctx context.Context) error {
	_, err := c.run(ctx, "reset", "--hard", "HEAD")
	return err
}

func (c *Client) Config(ctx context.Context, key, value string) error {
	_, err := c.run(ctx, "config", "--local", key, value)
	return err
}

func (c *Client) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := c.run(ctx, "config", "--local", "--get", key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) ConfigExists(ctx context.Context, key string) (bool, error) {
	_, err := c.run(ctx, "config", "--local", "--name-only", "--get-regexp", regexp.QuoteMeta(key))
	if err == nil {
		return true, nil
	}
	// git config exits 1 when nothing matches.
	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

func (c *Client) ConfigUnset(ctx context.Context, key string) error {
	_, err := c.run(ctx, "config", "--local", "--unset-all", key)
	return err
}

func (c *Client) FetchURL(context.Context) (string, error) {
	repo, err := c.open()
	if err != nil {
		return "", err
	}
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	origin, ok := cfg.Remotes["origin"]
	if !ok || len(origin.URLs) == 0 {
		return "", errors.New("no fetch URL configured for origin")
	}
	return origin.URLs[0], nil
}

func (c *Client) LFSInstall(ctx context.Context) error {
	_, err := c.run(ctx, "lfs", "install", "--local")
	return err
}

func (c *Client) LFSFetch(ctx context.Context, ref string) error {
	_, err := c.runWithRetry(ctx, "git lfs fetch", "lfs", "fetch", "origin", ref)
	return err
}

func (c *Client) LogMostRecent(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "log", "-1")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) WorkingDirectory() string {
	return c.dir
}
