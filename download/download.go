/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package download materializes a repository tree from the GitHub REST API
// when no local git is available. The result has no version-control metadata.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/google/uuid"
	"github.com/solarmonkey/checkout/retry"
	"golang.org/x/oauth2"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Request names the tree to download and where to put it.
type Request struct {
	Token  string
	Owner  string
	Name   string
	Ref    string
	Commit string
	// Path is an existing, empty directory.
	Path string
}

type config struct {
	apiURL     string
	httpClient *http.Client
	retry      retry.Config
}

// Option configures a Client.
type Option func(*config)

// WithAPIURL points the client at a GitHub Enterprise Server REST endpoint.
func WithAPIURL(apiURL string) Option {
	return func(c *config) { c.apiURL = apiURL }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithRetry sets the retry policy for API calls and the archive download.
func WithRetry(cfg retry.Config) Option {
	return func(c *config) { c.retry = cfg }
}

// Client downloads repository archives.
type Client struct {
	baseURL *url.URL
	cfg     config
}

// New returns a Client.
func New(opts ...Option) (*Client, error) {
	cfg := config{
		apiURL:     DefaultAPIURL,
		httpClient: &http.Client{},
		retry:      retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.apiURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing API URL %q: %w", cfg.apiURL, err)
	}
	return &Client{baseURL: base, cfg: cfg}, nil
}

func (c *Client) github(ctx context.Context, token string) *github.Client {
	hc := c.cfg.httpClient
	if token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.httpClient)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	gh := github.NewClient(hc)
	gh.BaseURL = c.baseURL
	return gh
}

// Download fetches the tarball for req.Commit (or req.Ref, or the default
// branch when both are empty) and extracts its contents into req.Path.
func (c *Client) Download(ctx context.Context, req Request) error {
	log := clog.FromContext(ctx)
	gh := c.github(ctx, req.Token)

	ref := req.Commit
	if ref == "" {
		ref = req.Ref
	}
	if ref == "" {
		branch, err := c.defaultBranch(ctx, gh, req.Owner, req.Name)
		if err != nil {
			return err
		}
		log.Infof("Default branch '%s'", branch)
		ref = branch
	}

	link, err := retry.WithBackoff(ctx, c.cfg.retry, "archive link", retryable, func() (*url.URL, error) {
		u, _, err := gh.Repositories.GetArchiveLink(ctx, req.Owner, req.Name, github.Tarball,
			&github.RepositoryContentGetOptions{Ref: ref}, 1)
		return u, err
	})
	if err != nil {
		return fmt.Errorf("getting archive link for %s/%s@%s: %w", req.Owner, req.Name, ref, err)
	}

	archive := filepath.Join(req.Path, uuid.NewString()+".tar.gz")
	defer os.Remove(archive)

	log.Infof("Downloading the archive")
	if err := retry.Do(ctx, c.cfg.retry, "archive download", retry.Always, func() error {
		return c.fetch(ctx, link.String(), archive)
	}); err != nil {
		return fmt.Errorf("downloading archive: %w", err)
	}

	extractDir := filepath.Join(req.Path, uuid.NewString())
	defer os.RemoveAll(extractDir)

	log.Infof("Extracting the archive")
	if err := extract(archive, extractDir); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}
	if err := hoist(extractDir, req.Path); err != nil {
		return fmt.Errorf("moving archive contents: %w", err)
	}
	return nil
}

func (c *Client) defaultBranch(ctx context.Context, gh *github.Client, owner, name string) (string, error) {
	repo, err := retry.WithBackoff(ctx, c.cfg.retry, "default branch", retryable, func() (*github.Repository, error) {
		repo, _, err := gh.Repositories.Get(ctx, owner, name)
		return repo, err
	})
	if err != nil {
		return "", fmt.Errorf("getting default branch of %s/%s: %w", owner, name, err)
	}
	if repo.GetDefaultBranch() == "" {
		return "", fmt.Errorf("repository %s/%s reports no default branch", owner, name)
	}
	return repo.GetDefaultBranch(), nil
}

// fetch streams link into dest. The archive host receives no credentials.
func (c *Client) fetch(ctx context.Context, link, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// retryable rejects client errors other than rate limiting.
func retryable(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}
	return err != nil
}
