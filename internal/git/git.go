package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// tokenEnv carries the HTTPS token to the inline credential helper.
const tokenEnv = "DATAPAGES_GIT_TOKEN"

// Client provides the git operations needed to publish a directory
type Client interface {
	// Clone makes a shallow working copy of branch in dest. When the branch
	// does not exist on the remote, dest is prepared as an empty orphan
	// branch whose first push creates it.
	Clone(ctx context.Context, url, branch, dest string) error
	// CommitAll stages every change in dir and commits it. It returns the new
	// commit hash, or "" when there was nothing to commit.
	CommitAll(ctx context.Context, dir, message string) (string, error)
	// CommitPaths commits only the given paths of dir. It returns "" when
	// those paths have no changes.
	CommitPaths(ctx context.Context, dir, message string, paths ...string) (string, error)
	// Push pushes HEAD of dir to branch on origin.
	Push(ctx context.Context, dir, branch string) error
}

// Auth holds optional credentials. Token is used for HTTPS remotes,
// SSHKeyFile for SSH remotes.
type Auth struct {
	Token      string
	SSHKeyFile string
}

// Identity is the author and committer of published commits.
type Identity struct {
	Name  string
	Email string
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	auth     Auth
	identity Identity
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(auth Auth, identity Identity) *ShellClient {
	return &ShellClient{
		auth:     auth,
		identity: identity,
	}
}

// Clone clones branch of url into dest, or prepares an orphan branch when the
// remote does not have it yet.
func (c *ShellClient) Clone(ctx context.Context, url, branch, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	exists, err := c.remoteBranchExists(ctx, url, branch)
	if err != nil {
		return err
	}

	if exists {
		cmd := c.command(ctx, "", "clone", "--depth", "1", "--single-branch", "--branch", branch, url, dest)
		if err := c.runCommand(cmd); err != nil {
			return fmt.Errorf("git clone failed: %w", err)
		}
		return nil
	}

	// Start from an empty history; the first push creates the branch
	if err := c.runCommand(c.command(ctx, "", "init", "--quiet", dest)); err != nil {
		return fmt.Errorf("git init failed: %w", err)
	}
	for _, step := range []struct {
		name string
		args []string
	}{
		{"remote add", []string{"remote", "add", "origin", url}},
		{"symbolic-ref", []string{"symbolic-ref", "HEAD", "refs/heads/" + branch}},
	} {
		if err := c.runCommand(c.command(ctx, dest, step.args...)); err != nil {
			return fmt.Errorf("git %s failed: %w", step.name, err)
		}
	}
	return nil
}

// remoteBranchExists asks the remote whether branch exists.
func (c *ShellClient) remoteBranchExists(ctx context.Context, url, branch string) (bool, error) {
	cmd := c.command(ctx, "", "ls-remote", "--exit-code", "--heads", url, "refs/heads/"+branch)
	err := c.runCommand(cmd)
	if err == nil {
		return true, nil
	}

	// ls-remote --exit-code exits with 2 when no matching ref was found
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
		return false, nil
	}
	return false, fmt.Errorf("git ls-remote failed: %w", err)
}

// CommitAll stages all changes in dir and commits them.
func (c *ShellClient) CommitAll(ctx context.Context, dir, message string) (string, error) {
	if err := c.runCommand(c.command(ctx, dir, "add", "--all")); err != nil {
		return "", fmt.Errorf("git add failed: %w", err)
	}
	return c.commitStaged(ctx, dir, message, nil)
}

// CommitPaths stages and commits the given paths only.
func (c *ShellClient) CommitPaths(ctx context.Context, dir, message string, paths ...string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no paths to commit")
	}

	args := append([]string{"add", "--all", "--"}, paths...)
	if err := c.runCommand(c.command(ctx, dir, args...)); err != nil {
		return "", fmt.Errorf("git add failed: %w", err)
	}
	return c.commitStaged(ctx, dir, message, paths)
}

// commitStaged commits what is staged (limited to paths when given) and
// returns the new HEAD, or "" when nothing is staged.
func (c *ShellClient) commitStaged(ctx context.Context, dir, message string, paths []string) (string, error) {
	diffArgs := []string{"diff", "--cached", "--quiet"}
	if len(paths) > 0 {
		diffArgs = append(append(diffArgs, "--"), paths...)
	}
	err := c.runCommand(c.command(ctx, dir, diffArgs...))
	if err == nil {
		return "", nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		return "", fmt.Errorf("git diff failed: %w", err)
	}

	commitArgs := []string{"commit", "--quiet", "--no-verify", "-m", message}
	if len(paths) > 0 {
		commitArgs = append(append(commitArgs, "--"), paths...)
	}
	if err := c.runCommand(c.command(ctx, dir, commitArgs...)); err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	output, err := c.command(ctx, dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Push pushes HEAD to branch on origin.
func (c *ShellClient) Push(ctx context.Context, dir, branch string) error {
	cmd := c.command(ctx, dir, "push", "--quiet", "origin", "HEAD:refs/heads/"+branch)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git push failed: %w", err)
	}
	return nil
}

// command builds a git invocation in dir (when set) with identity and
// authentication configured.
func (c *ShellClient) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	full := []string{"git"}
	if dir != "" {
		full = append(full, "-C", dir)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	flags := []string{"-c", "commit.gpgsign=false"}
	if c.identity.Name != "" {
		flags = append(flags, "-c", "user.name="+c.identity.Name)
	}
	if c.identity.Email != "" {
		flags = append(flags, "-c", "user.email="+c.identity.Email)
	}
	cmd.Args = insertGitFlags(cmd.Args, flags...)

	c.configureAuth(cmd)
	return cmd
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd) {
	// SSH authentication
	if c.auth.SSHKeyFile != "" {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.auth.SSHKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
	}

	// HTTPS authentication with token
	if c.auth.Token != "" {
		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression or the remote URL.
		cmd.Env = append(cmd.Env, tokenEnv+"="+c.auth.Token)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$`+tokenEnv+`"; }; f`,
		)
	}
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with output on failure.
// The underlying *exec.ExitError stays reachable through errors.As.
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
