/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package sourcesync brings a working directory to a requested ref or commit.
//
// Synchronize prefers a local git repository, reusing what a previous run
// left behind when the Directory Reconciler proves it safe. When git is not
// usable it downloads the tree through the REST API instead. The fetch and
// checkout run inside a credential bracket: the auth header is injected
// before and removed after, whether or not they succeed.
//
// Cleanup is the separately invoked counterpart that removes a persisted
// auth header once the caller is done with the repository.
package sourcesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/solarmonkey/checkout/credentials"
	"github.com/solarmonkey/checkout/download"
	"github.com/solarmonkey/checkout/gateway"
	"github.com/solarmonkey/checkout/gateway/gitcli"
	"github.com/solarmonkey/checkout/metrics"
	"github.com/solarmonkey/checkout/refs"
	"github.com/solarmonkey/checkout/settings"
	"github.com/solarmonkey/checkout/state"
	"github.com/solarmonkey/checkout/workdir"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/solarmonkey/checkout/sourcesync"

// DefaultServerURL is used by Cleanup when no server URL is given.
const DefaultServerURL = "https://github.com"

// GatewayFactory constructs a gateway for dir. It fails when no usable
// version-control tool is available.
type GatewayFactory func(ctx context.Context, dir string, lfs bool) (gateway.Gateway, error)

// Downloader materializes a tree without version-control metadata.
type Downloader interface {
	Download(ctx context.Context, req download.Request) error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithGatewayFactory replaces the git executable gateway.
func WithGatewayFactory(f GatewayFactory) Option {
	return func(s *Synchronizer) { s.newGateway = f }
}

// WithDownloader replaces the REST API downloader.
func WithDownloader(d Downloader) Option {
	return func(s *Synchronizer) { s.downloader = d }
}

// WithStateStore sets where the repository path is recorded for Cleanup.
func WithStateStore(store state.Store) Option {
	return func(s *Synchronizer) { s.store = store }
}

// WithMasker registers injected credentials for log redaction.
func WithMasker(m credentials.Masker) Option {
	return func(s *Synchronizer) { s.masker = m }
}

// WithMetrics sets the run metrics.
func WithMetrics(m *metrics.Sync) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// Synchronizer synchronizes working directories. It is safe to reuse across
// runs but not to run concurrently against the same path.
type Synchronizer struct {
	newGateway GatewayFactory
	downloader Downloader
	store      state.Store
	masker     credentials.Masker
	metrics    *metrics.Sync
	tracer     trace.Tracer
}

// New returns a Synchronizer.
func New(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		newGateway: func(ctx context.Context, dir string, lfs bool) (gateway.Gateway, error) {
			c, err := gitcli.New(ctx, dir, lfs)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		store: state.NewMemory(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSync(instrumentationName)
	}
	s.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion("1.0.0"))
	return s
}

// Synchronize makes st.RepositoryPath match st.Ref and st.Commit.
func (s *Synchronizer) Synchronize(ctx context.Context, st settings.Settings) (err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.synchronize", trace.WithAttributes(
		attribute.String("repository", st.RepositoryOwner+"/"+st.RepositoryName),
		attribute.String("ref", st.Ref),
		attribute.String("commit", st.Commit),
	))
	start := time.Now()
	mode := metrics.ModeGateway
	defer func() {
		endSpan(span, err)
		s.metrics.RecordRun(ctx, mode, err, time.Since(start))
	}()

	log := clog.FromContext(ctx)
	log.Infof("Syncing repository: %s/%s", st.RepositoryOwner, st.RepositoryName)
	repositoryURL := st.RepositoryURL()

	path, err := filepath.Abs(st.RepositoryPath)
	if err != nil {
		return fmt.Errorf("resolving repository path: %w", err)
	}
	existed, err := preparePath(ctx, path)
	if err != nil {
		return err
	}

	ref := gateway.Unavailable()
	if gw, err := s.newGateway(ctx, path, st.LFS); err != nil {
		if st.LFS {
			return fmt.Errorf("LFS is not supported when downloading through the REST API; add git %s or higher to the PATH: %w",
				gitcli.MinimumVersion, err)
		}
		log.Debugf("Unable to use git: %v", err)
	} else {
		ref = gateway.Available(gw)
	}

	if existed {
		if err := s.phase(ctx, "checkout.reconcile", func(ctx context.Context) error {
			return workdir.Reconcile(ctx, ref, path, repositoryURL, st.Clean)
		}); err != nil {
			return err
		}
	}

	gw, ok := ref.Get()
	if !ok {
		mode = metrics.ModeDownload
		return s.phase(ctx, "checkout.download", func(ctx context.Context) error {
			return s.download(ctx, st, path)
		})
	}
	return s.syncGateway(ctx, gw, st, path, repositoryURL)
}

// preparePath replaces a non-directory at path and creates it when missing.
// It reports whether a directory already existed.
func preparePath(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return true, nil
	case err == nil:
		clog.FromContext(ctx).Infof("Removing %s, which is not a directory", path)
		if err := os.RemoveAll(path); err != nil {
			return false, fmt.Errorf("removing %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("inspecting %s: %w", path, err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	return false, nil
}

func (s *Synchronizer) download(ctx context.Context, st settings.Settings, path string) error {
	clog.FromContext(ctx).Infof("The repository will be downloaded using the GitHub REST API. "+
		"To create a local git repository instead, add git %s or higher to the PATH.", gitcli.MinimumVersion)

	dl := s.downloader
	if dl == nil {
		var opts []download.Option
		if st.APIURL != "" {
			opts = append(opts, download.WithAPIURL(st.APIURL))
		}
		c, err := download.New(opts...)
		if err != nil {
			return err
		}
		dl = c
	}
	return dl.Download(ctx, download.Request{
		Token:  st.AuthToken,
		Owner:  st.RepositoryOwner,
		Name:   st.RepositoryName,
		Ref:    st.Ref,
		Commit: st.Commit,
		Path:   path,
	})
}

func (s *Synchronizer) syncGateway(ctx context.Context, gw gateway.Gateway, st settings.Settings, path, repositoryURL string) error {
	log := clog.FromContext(ctx)

	if err := s.store.Save(state.RepositoryPathKey, path); err != nil {
		return fmt.Errorf("recording repository path: %w", err)
	}

	if _, err := os.Stat(filepath.Join(path, ".git")); errors.Is(err, os.ErrNotExist) {
		log.Infof("Initializing the repository")
		if err := gw.Init(ctx); err != nil {
			return fmt.Errorf("initializing repository: %w", err)
		}
		if err := gw.RemoteAdd(ctx, "origin", repositoryURL); err != nil {
			return fmt.Errorf("adding remote: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("inspecting repository metadata: %w", err)
	}

	if err := gw.Config(ctx, "gc.auto", "0"); err != nil {
		log.Warnf("Unable to turn off git automatic garbage collection. The git fetch operation may trigger garbage collection and cause a delay: %v", err)
	}

	key, err := credentials.HeaderKey(st.ServerURL)
	if err != nil {
		return err
	}
	creds := credentials.New(gw, key, s.masker)
	// A crashed earlier run may have left its header behind.
	creds.RemoveBestEffort(ctx)

	return creds.Bracket(ctx, st.AuthToken, st.PersistCredentials, func(ctx context.Context) error {
		return s.fetchAndCheckout(ctx, gw, st, repositoryURL)
	})
}

func (s *Synchronizer) fetchAndCheckout(ctx context.Context, gw gateway.Gateway, st settings.Settings, repositoryURL string) error {
	log := clog.FromContext(ctx)

	if st.LFS {
		if err := gw.LFSInstall(ctx); err != nil {
			return fmt.Errorf("installing LFS: %w", err)
		}
	}

	ref, commit := st.Ref, st.Commit
	if ref == "" && commit == "" {
		branch, err := gw.RemoteDefaultBranch(ctx, repositoryURL)
		if err != nil {
			return fmt.Errorf("determining default branch: %w", err)
		}
		log.Infof("Determined the default branch: %s", branch)
		ref = branch
	}

	specs, err := refs.RefSpec(ref, commit)
	if err != nil {
		return err
	}
	if err := s.phase(ctx, "checkout.fetch", func(ctx context.Context) error {
		return gw.Fetch(ctx, specs, st.FetchDepth)
	}); err != nil {
		return fmt.Errorf("fetching: %w", err)
	}

	var available refs.Available
	if available.RemoteBranches, err = gw.BranchList(ctx, true); err != nil {
		return fmt.Errorf("listing remote branches: %w", err)
	}
	if available.Tags, err = gw.TagList(ctx); err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}
	info, err := refs.Resolve(ref, commit, available)
	if err != nil {
		return err
	}

	if st.LFS {
		if err := gw.LFSFetch(ctx, info.LFSTarget()); err != nil {
			return fmt.Errorf("fetching LFS objects: %w", err)
		}
	}

	if err := s.phase(ctx, "checkout.checkout", func(ctx context.Context) error {
		return gw.Checkout(ctx, info.Ref, info.StartPoint)
	}); err != nil {
		return fmt.Errorf("checking out %s: %w", info.Ref, err)
	}

	commitLog, err := gw.LogMostRecent(ctx)
	if err != nil {
		return fmt.Errorf("reading most recent commit: %w", err)
	}
	log.Info(commitLog)
	return nil
}

// Cleanup removes the auth header from the repository at path. It never
// fails: a missing repository or an unusable git makes it a no-op, and a
// failed removal is logged.
func (s *Synchronizer) Cleanup(ctx context.Context, path, serverURL string) {
	ctx, span := s.tracer.Start(ctx, "checkout.cleanup")
	defer span.End()

	log := clog.FromContext(ctx)
	if path == "" {
		return
	}
	if _, err := os.Stat(filepath.Join(path, ".git", "config")); err != nil {
		log.Debugf("No repository at %s, nothing to clean up", path)
		return
	}

	gw, err := s.newGateway(ctx, path, false)
	if err != nil {
		log.Debugf("Unable to use git for cleanup: %v", err)
		return
	}

	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	key, err := credentials.HeaderKey(serverURL)
	if err != nil {
		log.Warnf("Unable to determine auth config key: %v", err)
		return
	}
	credentials.New(gw, key, s.masker).RemoveBestEffort(ctx)
}

// phase runs fn in a child span.
func (s *Synchronizer) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, name)
	err := fn(ctx)
	endSpan(span, err)
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
