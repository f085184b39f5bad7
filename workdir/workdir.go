/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package workdir decides whether a pre-existing working directory can be
// reused for a new checkout or must be emptied and recreated.
//
// Reuse is only allowed when the directory is provably equivalent to a fresh
// checkout: same origin URL, HEAD detached, no local or remote-tracking
// branches left behind, and (when cleaning is requested) a successful clean
// and hard reset. Any doubt empties the directory.
package workdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/solarmonkey/checkout/gateway"
	"github.com/solarmonkey/checkout/metrics"
)

// Reasons a directory is recreated.
const (
	ReasonNoGateway     = "no-gateway"
	ReasonNoMetadata    = "no-metadata"
	ReasonURLMismatch   = "url-mismatch"
	ReasonCleanFailed   = "clean-failed"
	ReasonResetFailed   = "reset-failed"
	ReasonPrepareFailed = "prepare-failed"
)

// lockFiles may be left in the metadata directory by a crashed run.
var lockFiles = []string{"index.lock", "shallow.lock"}

// Reconcile prepares the existing directory at path for a checkout of
// expectedURL. It either leaves a reusable repository in place or deletes
// every entry inside path. path itself is never removed, since it may be the
// caller's working directory.
func Reconcile(ctx context.Context, ref gateway.Ref, path, expectedURL string, clean bool) error {
	reason := decide(ctx, ref, path, expectedURL, clean)
	if reason == "" {
		metrics.RecordReconcile(metrics.OutcomeReused, "")
		return nil
	}

	metrics.RecordReconcile(metrics.OutcomeRecreated, reason)
	clog.FromContext(ctx).With("reason", reason).Infof("Deleting the contents of %s", path)
	return Clear(path)
}

// decide returns the reason to recreate the directory, or "" to reuse it.
func decide(ctx context.Context, ref gateway.Ref, path, expectedURL string, clean bool) string {
	log := clog.FromContext(ctx)

	gw, ok := ref.Get()
	if !ok {
		return ReasonNoGateway
	}

	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return ReasonNoMetadata
	}
	if url, err := gw.FetchURL(ctx); err != nil || url != expectedURL {
		return ReasonURLMismatch
	}

	removeLocks(ctx, path)

	reason, err := prepare(ctx, gw, clean)
	if err != nil {
		log.Warnf("Unable to prepare the existing repository. The repository will be recreated instead: %v", err)
		return ReasonPrepareFailed
	}
	return reason
}

// prepare detaches HEAD, deletes every branch, and optionally cleans and
// resets. A clean or reset failure yields a reason; any other failure is
// returned as an error.
func prepare(ctx context.Context, gw gateway.Gateway, clean bool) (string, error) {
	log := clog.FromContext(ctx)

	detached, err := gw.IsDetached(ctx)
	if err != nil {
		return "", fmt.Errorf("checking HEAD: %w", err)
	}
	if !detached {
		if err := gw.CheckoutDetach(ctx); err != nil {
			return "", fmt.Errorf("detaching HEAD: %w", err)
		}
	}

	for _, remote := range []bool{false, true} {
		branches, err := gw.BranchList(ctx, remote)
		if err != nil {
			return "", fmt.Errorf("listing branches: %w", err)
		}
		for _, branch := range branches {
			if err := gw.BranchDelete(ctx, remote, branch); err != nil {
				return "", fmt.Errorf("deleting branch %s: %w", branch, err)
			}
		}
	}

	if !clean {
		return "", nil
	}

	var reason string
	if err := gw.TryClean(ctx); err != nil {
		log.Infof("The clean command failed. This might be caused by: 1) path too long, 2) permission issue, or 3) file in use. "+
			"For further investigation, manually run 'git clean -ffdx' on the directory %s: %v", gw.WorkingDirectory(), err)
		reason = ReasonCleanFailed
	} else if err := gw.TryReset(ctx); err != nil {
		log.Debugf("The reset command failed: %v", err)
		reason = ReasonResetFailed
	}
	if reason != "" {
		log.Warnf("Unable to clean or reset the repository. The repository will be recreated instead.")
	}
	return reason, nil
}

// removeLocks deletes stale lock files, logging failures.
func removeLocks(ctx context.Context, path string) {
	for _, name := range lockFiles {
		lock := filepath.Join(path, ".git", name)
		if err := os.Remove(lock); err != nil && !errors.Is(err, os.ErrNotExist) {
			clog.FromContext(ctx).Debugf("Unable to delete %s: %v", lock, err)
		}
	}
}

// Clear deletes every entry inside path but not path itself. Every entry is
// attempted; failures are joined.
func Clear(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clearing %s: %w", path, err)
	}
	return nil
}
