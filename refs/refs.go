/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package refs turns a requested (ref, commit) pair into the refspecs to
// fetch and, once fetched, into the target to check out.
package refs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	headsPrefix = "refs/heads/"
	pullPrefix  = "refs/pull/"
	tagsPrefix  = "refs/tags/"
	refsPrefix  = "refs/"

	remoteOrigin = "refs/remotes/origin/"
	remotePull   = "refs/remotes/pull/"
)

var (
	// ErrMissingRefAndCommit is returned when neither a ref nor a commit was
	// supplied.
	ErrMissingRefAndCommit = errors.New("ref and commit cannot both be empty")

	// ErrRefNotFound is returned when an unqualified ref matches neither a
	// fetched branch nor a fetched tag.
	ErrRefNotFound = errors.New("branch or tag not found")
)

// CheckoutInfo is the concrete checkout target.
type CheckoutInfo struct {
	// Ref is the branch, tag ref, remote ref or commit to check out.
	Ref string
	// StartPoint, when set, is the ref Ref is created or reset at.
	StartPoint string
}

// Available holds the refs present locally after fetching.
type Available struct {
	// RemoteBranches are origin remote-tracking branches as origin/<name>.
	RemoteBranches []string
	// Tags are tag names without the refs/tags/ prefix.
	Tags []string
}

// hasPrefixFold reports whether s begins with prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// RefSpec returns the refspecs that fetch ref and commit.
func RefSpec(ref, commit string) ([]string, error) {
	if ref == "" && commit == "" {
		return nil, ErrMissingRefAndCommit
	}

	if commit != "" {
		switch {
		case hasPrefixFold(ref, headsPrefix):
			return []string{fmt.Sprintf("+%s:%s%s", commit, remoteOrigin, ref[len(headsPrefix):])}, nil
		case hasPrefixFold(ref, pullPrefix):
			return []string{fmt.Sprintf("+%s:%s%s", commit, remotePull, ref[len(pullPrefix):])}, nil
		case hasPrefixFold(ref, tagsPrefix):
			return []string{fmt.Sprintf("+%s:%s", commit, ref)}, nil
		default:
			return []string{commit}, nil
		}
	}

	switch {
	case hasPrefixFold(ref, headsPrefix):
		return []string{fmt.Sprintf("+%s:%s%s", ref, remoteOrigin, ref[len(headsPrefix):])}, nil
	case hasPrefixFold(ref, pullPrefix):
		return []string{fmt.Sprintf("+%s:%s%s", ref, remotePull, ref[len(pullPrefix):])}, nil
	case hasPrefixFold(ref, refsPrefix):
		return []string{fmt.Sprintf("+%s:%s", ref, ref)}, nil
	default:
		return []string{
			fmt.Sprintf("+%s%s*:%s%s*", headsPrefix, ref, remoteOrigin, ref),
			fmt.Sprintf("+%s%s*:%s%s*", tagsPrefix, ref, tagsPrefix, ref),
		}, nil
	}
}

// Resolve computes the checkout target for ref and commit given the refs
// available after the fetch.
func Resolve(ref, commit string, available Available) (CheckoutInfo, error) {
	if ref == "" && commit == "" {
		return CheckoutInfo{}, ErrMissingRefAndCommit
	}
	if ref == "" {
		return CheckoutInfo{Ref: commit}, nil
	}

	switch {
	case hasPrefixFold(ref, headsPrefix):
		branch := ref[len(headsPrefix):]
		return CheckoutInfo{Ref: branch, StartPoint: remoteOrigin + branch}, nil
	case hasPrefixFold(ref, pullPrefix):
		return CheckoutInfo{Ref: remotePull + ref[len(pullPrefix):]}, nil
	case hasPrefixFold(ref, refsPrefix):
		if commit != "" {
			return CheckoutInfo{Ref: commit}, nil
		}
		return CheckoutInfo{Ref: ref}, nil
	}

	if slices.Contains(available.RemoteBranches, "origin/"+ref) {
		return CheckoutInfo{Ref: ref, StartPoint: remoteOrigin + ref}, nil
	}
	if slices.Contains(available.Tags, ref) {
		return CheckoutInfo{Ref: tagsPrefix + ref}, nil
	}
	return CheckoutInfo{}, fmt.Errorf("%w: %q", ErrRefNotFound, ref)
}

// LFSTarget is the ref LFS objects are fetched for: the start point when
// one exists, otherwise the checkout ref.
func (ci CheckoutInfo) LFSTarget() string {
	if ci.StartPoint != "" {
		return ci.StartPoint
	}
	return ci.Ref
}
