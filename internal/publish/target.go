package publish

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/schaermu/datapages/internal/config"
	"github.com/schaermu/datapages/internal/git"
)

// githubSlug matches the "owner/name" form of GITHUB_REPOSITORY.
var githubSlug = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Target is a resolved deployment remote with its credentials.
type Target struct {
	URL  string
	Auth git.Auth
}

// ResolveTarget builds the deployment remote from configuration and the
// process environment. A missing repository, or a missing token for an HTTPS
// remote, is a *config.Error. It performs no I/O, so
// callers can run it before anything else.
func ResolveTarget(cfg config.PublishConfig, getenv func(string) string) (Target, error) {
	repo := strings.TrimSpace(os.Expand(cfg.Repository, getenv))
	if repo == "" {
		return Target{}, config.Errorf("publish.repository", "is required (set it or export GITHUB_REPOSITORY)")
	}

	url := repo
	if isGitHubSlug(repo) {
		url = "https://github.com/" + strings.TrimSuffix(repo, ".git") + ".git"
	}

	var token string
	if cfg.TokenEnv != "" {
		token = strings.TrimSpace(getenv(cfg.TokenEnv))
	}

	if strings.HasPrefix(url, "https://") && token == "" {
		return Target{}, config.Errorf("publish.token_env", "%s must be set to push to %s", envName(cfg.TokenEnv), url)
	}

	return Target{
		URL:  url,
		Auth: git.Auth{Token: token, SSHKeyFile: cfg.SSHKeyFile},
	}, nil
}

// isGitHubSlug reports whether repo is "owner/name" rather than a URL or a
// local path.
func isGitHubSlug(repo string) bool {
	if strings.HasPrefix(repo, ".") || filepath.IsAbs(repo) {
		return false
	}
	return githubSlug.MatchString(repo)
}

func envName(name string) string {
	if name == "" {
		return "a token (publish.token_env)"
	}
	return name
}
