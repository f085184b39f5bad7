/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package settings loads and normalizes the inputs of one checkout run.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

var (
	// ErrInvalidRepository is returned when the repository is not owner/name.
	ErrInvalidRepository = errors.New("invalid repository")
	// ErrPathOutsideWorkspace is returned when the target path escapes the
	// workspace.
	ErrPathOutsideWorkspace = errors.New("repository path is not under the workspace")
)

var commitRE = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// Inputs is the raw environment of a run, as a workflow runner provides it.
type Inputs struct {
	Repository         string `env:"INPUT_REPOSITORY"`
	Ref                string `env:"INPUT_REF"`
	Token              string `env:"INPUT_TOKEN"`
	Path               string `env:"INPUT_PATH"`
	Clean              bool   `env:"INPUT_CLEAN,default=true"`
	FetchDepth         int    `env:"INPUT_FETCH_DEPTH,default=1"`
	LFS                bool   `env:"INPUT_LFS,default=false"`
	PersistCredentials bool   `env:"INPUT_PERSIST_CREDENTIALS,default=true"`

	// GitHub App credentials, used when Token is empty.
	AppID          int64  `env:"INPUT_APP_ID"`
	InstallationID int64  `env:"INPUT_INSTALLATION_ID"`
	PrivateKeyPath string `env:"INPUT_PRIVATE_KEY_PATH"`

	Workspace          string `env:"GITHUB_WORKSPACE,required"`
	WorkflowRepository string `env:"GITHUB_REPOSITORY"`
	WorkflowRef        string `env:"GITHUB_REF"`
	WorkflowSHA        string `env:"GITHUB_SHA"`
	ServerURL          string `env:"GITHUB_SERVER_URL,default=https://github.com"`
	APIURL             string `env:"GITHUB_API_URL,default=https://api.github.com"`
}

// nonEmpty treats variables set to "" as unset, since runners pass omitted
// inputs that way.
type nonEmpty struct {
	envconfig.Lookuper
}

func (l nonEmpty) Lookup(key string) (string, bool) {
	v, ok := l.Lookuper.Lookup(key)
	return v, ok && v != ""
}

// Load reads Inputs through lookuper, or the process environment when
// lookuper is nil.
func Load(ctx context.Context, lookuper envconfig.Lookuper) (Inputs, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	var in Inputs
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &in,
		Lookuper: nonEmpty{lookuper},
	}); err != nil {
		return Inputs{}, fmt.Errorf("processing inputs: %w", err)
	}
	return in, nil
}

// Settings is the normalized, immutable description of one run.
type Settings struct {
	// RepositoryPath is the absolute target directory.
	RepositoryPath  string
	RepositoryOwner string
	RepositoryName  string
	// Ref is empty or a branch, tag, or fully qualified ref.
	Ref string
	// Commit is empty or a full SHA.
	Commit string
	Clean  bool
	// FetchDepth of 0 fetches full history.
	FetchDepth         int
	LFS                bool
	AuthToken          string
	PersistCredentials bool
	// ServerURL is the scheme and host of the git server.
	ServerURL string
	// APIURL is the REST API root.
	APIURL string
}

// RepositoryURL is the clone URL derived from the server, owner and name.
func (s Settings) RepositoryURL() string {
	return fmt.Sprintf("%s/%s/%s", s.ServerURL, url.PathEscape(s.RepositoryOwner), url.PathEscape(s.RepositoryName))
}

// Resolve validates in and applies defaults.
func Resolve(in Inputs) (Settings, error) {
	if in.Workspace == "" {
		return Settings{}, errors.New("GITHUB_WORKSPACE not defined")
	}
	workspace, err := filepath.Abs(in.Workspace)
	if err != nil {
		return Settings{}, fmt.Errorf("resolving workspace: %w", err)
	}

	repository := in.Repository
	if repository == "" {
		repository = in.WorkflowRepository
	}
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Settings{}, fmt.Errorf("%w: '%s', expected format {owner}/{repo}", ErrInvalidRepository, repository)
	}

	path := in.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	path = filepath.Clean(path)
	if rel, err := filepath.Rel(workspace, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Settings{}, fmt.Errorf("%w: '%s' is not under '%s'", ErrPathOutsideWorkspace, path, workspace)
	}

	server, err := origin(in.ServerURL)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid server URL: %w", err)
	}

	s := Settings{
		RepositoryPath:     path,
		RepositoryOwner:    owner,
		RepositoryName:     name,
		Ref:                in.Ref,
		Clean:              in.Clean,
		FetchDepth:         max(in.FetchDepth, 0),
		LFS:                in.LFS,
		AuthToken:          in.Token,
		PersistCredentials: in.PersistCredentials,
		ServerURL:          server,
		APIURL:             strings.TrimSuffix(in.APIURL, "/"),
	}

	workflowRepository := strings.EqualFold(repository, in.WorkflowRepository)
	switch {
	case s.Ref == "" && workflowRepository:
		s.Ref = in.WorkflowRef
		s.Commit = in.WorkflowSHA
		// Some events carry an unqualified branch name alongside the SHA.
		if s.Commit != "" && s.Ref != "" && !strings.HasPrefix(s.Ref, "refs/") {
			s.Ref = "refs/heads/" + s.Ref
		}
	case commitRE.MatchString(s.Ref):
		s.Commit = s.Ref
		s.Ref = ""
	}

	return s, nil
}

// origin returns the scheme://host of raw.
func origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q has no scheme or host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
