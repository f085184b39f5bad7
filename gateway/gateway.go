/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package gateway defines the version-control capabilities the synchronizer
// needs against a single working directory, and the Ref variant used to carry
// either an available gateway or the explicit absence of one.
package gateway

import "context"

// Gateway executes version-control primitives against one working directory.
// Implementations are not safe for concurrent use.
type Gateway interface {
	// Init creates a new repository in the working directory.
	Init(ctx context.Context) error
	// RemoteAdd registers a remote.
	RemoteAdd(ctx context.Context, name, url string) error
	// RemoteDefaultBranch asks the remote which branch HEAD points at and
	// returns it fully qualified (refs/heads/...).
	RemoteDefaultBranch(ctx context.Context, url string) (string, error)
	// Fetch fetches refSpecs from origin. A depth <= 0 fetches full history.
	Fetch(ctx context.Context, refSpecs []string, depth int) error
	// Checkout checks out ref, creating or resetting it at startPoint when
	// startPoint is not empty.
	Checkout(ctx context.Context, ref, startPoint string) error
	// CheckoutDetach detaches HEAD at its current commit.
	CheckoutDetach(ctx context.Context) error
	// IsDetached reports whether HEAD points directly at a commit.
	IsDetached(ctx context.Context) (bool, error)
	// BranchList lists local branch names, or origin remote-tracking branch
	// names (origin/<name>) when remote is true.
	BranchList(ctx context.Context, remote bool) ([]string, error)
	// BranchDelete deletes a local or remote-tracking branch.
	BranchDelete(ctx context.Context, remote bool, branch string) error
	// TagList lists local tag names.
	TagList(ctx context.Context) ([]string, error)
	// TryClean removes untracked and ignored files from the working tree.
	TryClean(ctx context.Context) error
	// TryReset hard-resets the working tree to HEAD.
	TryReset(ctx context.Context) error
	// Config sets a repository-local config value.
	Config(ctx context.Context, key, value string) error
	// ConfigGet reads a repository-local config value.
	ConfigGet(ctx context.Context, key string) (string, error)
	// ConfigExists reports whether a repository-local config key is set.
	ConfigExists(ctx context.Context, key string) (bool, error)
	// ConfigUnset removes every value of a repository-local config key.
	ConfigUnset(ctx context.Context, key string) error
	// FetchURL returns the fetch URL of the origin remote.
	FetchURL(ctx context.Context) (string, error)
	// LFSInstall installs the LFS hooks and filters for the repository.
	LFSInstall(ctx context.Context) error
	// LFSFetch fetches LFS objects referenced by ref.
	LFSFetch(ctx context.Context, ref string) error
	// LogMostRecent describes the most recent commit on HEAD.
	LogMostRecent(ctx context.Context) (string, error)
	// WorkingDirectory is the directory commands run in.
	WorkingDirectory() string
}

// Ref is either Available, carrying a Gateway, or Unavailable. The zero
// value is Unavailable.
type Ref struct {
	gw Gateway
}

// Available wraps gw. A nil gw yields Unavailable.
func Available(gw Gateway) Ref {
	return Ref{gw: gw}
}

// Unavailable returns the Ref used when no gateway could be constructed.
func Unavailable() Ref {
	return Ref{}
}

// Get returns the wrapped gateway and whether one is available.
func (r Ref) Get() (Gateway, bool) {
	return r.gw, r.gw != nil
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	if r.gw == nil {
		return "unavailable"
	}
	return "available(" + r.gw.WorkingDirectory() + ")"
}
