// Package publish mirrors the local store into a deployment branch.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/datapages/internal/config"
	"github.com/schaermu/datapages/internal/git"
	"github.com/schaermu/datapages/internal/store"
)

// Publisher makes the current store contents visible at the deployment target
type Publisher interface {
	Publish(ctx context.Context, storeRoot string) error
}

// Error reports which step of a publish failed. The working copy has been
// removed by the time it is returned.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish: %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GitPublisher publishes by committing the store into a fresh clone of the
// deployment branch and pushing it.
type GitPublisher struct {
	cfg    config.PublishConfig
	target Target
	git    git.Client
	logger *slog.Logger
}

// NewGitPublisher creates a publisher for a resolved target
func NewGitPublisher(cfg config.PublishConfig, target Target, gitClient git.Client, logger *slog.Logger) *GitPublisher {
	return &GitPublisher{
		cfg:    cfg,
		target: target,
		git:    gitClient,
		logger: logger,
	}
}

// WorkDir returns the location of the isolated working copy. It is fixed per
// branch so that leftovers from an interrupted run are found and removed.
func (p *GitPublisher) WorkDir() string {
	name := strings.NewReplacer("/", "-", "\\", "-").Replace(p.cfg.Branch)
	return filepath.Join(p.cfg.WorkRoot(), "datapages-"+name)
}

// Publish replaces the managed subtree of the deployment branch with the
// contents of storeRoot and pushes the result as a single commit.
func (p *GitPublisher) Publish(ctx context.Context, storeRoot string) (err error) {
	workDir := p.WorkDir()

	// Never reuse a working copy left behind by an earlier run
	if err := os.RemoveAll(workDir); err != nil {
		return &Error{Step: "prepare", Err: fmt.Errorf("failed to remove stale working copy: %w", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			p.logger.Warn("failed to remove working copy", "dir", workDir, "error", rmErr)
			if err == nil {
				err = &Error{Step: "cleanup", Err: rmErr}
			}
		}
	}()

	if p.cfg.Record.Enabled {
		if err := p.record(ctx, storeRoot); err != nil {
			return &Error{Step: "record", Err: err}
		}
	}

	p.logger.Info("cloning deployment branch", "branch", p.cfg.Branch, "dest", workDir)
	if err := p.git.Clone(ctx, p.target.URL, p.cfg.Branch, workDir); err != nil {
		return &Error{Step: "clone", Err: err}
	}

	if err := p.replace(storeRoot, workDir); err != nil {
		return &Error{Step: "replace", Err: err}
	}

	commit, err := p.git.CommitAll(ctx, workDir, p.cfg.Message)
	if err != nil {
		return &Error{Step: "commit", Err: err}
	}
	if commit == "" {
		p.logger.Info("deployment branch already up to date, nothing to push", "branch", p.cfg.Branch)
		return nil
	}

	p.logger.Info("pushing deployment branch", "branch", p.cfg.Branch, "commit", commit)
	if err := p.git.Push(ctx, workDir, p.cfg.Branch); err != nil {
		return &Error{Step: "push", Err: err}
	}

	p.logger.Info("published", "branch", p.cfg.Branch, "target_dir", p.cfg.TargetDir, "commit", commit)
	return nil
}

// record commits the store directory to the primary checkout and pushes it
// before the deployment push.
func (p *GitPublisher) record(ctx context.Context, storeRoot string) error {
	repoDir, err := filepath.Abs(p.cfg.Record.RepoDir)
	if err != nil {
		return err
	}
	absStore, err := filepath.Abs(storeRoot)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(repoDir, absStore)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("store %s is outside repository %s", storeRoot, p.cfg.Record.RepoDir)
	}

	commit, err := p.git.CommitPaths(ctx, repoDir, p.cfg.Record.Message, filepath.ToSlash(rel))
	if err != nil {
		return err
	}
	if commit == "" {
		p.logger.Info("store already recorded, nothing to commit", "branch", p.cfg.Record.Branch)
		return nil
	}

	p.logger.Info("recording store in primary history", "branch", p.cfg.Record.Branch, "commit", commit)
	return p.git.Push(ctx, repoDir, p.cfg.Record.Branch)
}

// replace swaps the managed subtree of workDir for the store contents.
// Everything outside the subtree is left as cloned.
func (p *GitPublisher) replace(storeRoot, workDir string) error {
	files, err := store.New(storeRoot).Files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("store is empty, refusing to publish")
	}

	targetDir := filepath.Join(workDir, filepath.FromSlash(p.cfg.TargetDir))
	if p.cfg.TargetDir == "" {
		if err := clearExceptGit(workDir); err != nil {
			return err
		}
	} else if err := os.RemoveAll(targetDir); err != nil {
		return err
	}

	for _, name := range files {
		src := filepath.Join(storeRoot, filepath.FromSlash(name))
		dst := filepath.Join(targetDir, filepath.FromSlash(name))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy %s: %w", name, err)
		}
	}

	if p.cfg.NoJekyll {
		if err := os.WriteFile(filepath.Join(workDir, ".nojekyll"), nil, 0644); err != nil {
			return err
		}
	}

	p.logger.Debug("replaced managed subtree", "dir", targetDir, "files", len(files))
	return nil
}

// clearExceptGit removes everything in dir but the .git directory.
func clearExceptGit(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to dst, creating parent directories.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	return dstFile.Close()
}
