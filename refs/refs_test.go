/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package refs

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sha = "1111111111111111111111111111111111111111"

func TestRefSpec(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		commit string
		want   []string
	}{{
		name:   "branch with commit",
		ref:    "refs/heads/main",
		commit: sha,
		want:   []string{"+" + sha + ":refs/remotes/origin/main"},
	}, {
		name:   "pull with commit",
		ref:    "refs/pull/12/merge",
		commit: sha,
		want:   []string{"+" + sha + ":refs/remotes/pull/12/merge"},
	}, {
		name:   "tag with commit",
		ref:    "refs/tags/v1.0.0",
		commit: sha,
		want:   []string{"+" + sha + ":refs/tags/v1.0.0"},
	}, {
		name:   "commit only",
		commit: sha,
		want:   []string{sha},
	}, {
		name:   "unqualified ref with commit",
		ref:    "main",
		commit: sha,
		want:   []string{sha},
	}, {
		name: "branch",
		ref:  "refs/heads/feature/x",
		want: []string{"+refs/heads/feature/x:refs/remotes/origin/feature/x"},
	}, {
		name: "branch mixed case prefix",
		ref:  "REFS/Heads/main",
		want: []string{"+REFS/Heads/main:refs/remotes/origin/main"},
	}, {
		name: "pull",
		ref:  "refs/pull/7/head",
		want: []string{"+refs/pull/7/head:refs/remotes/pull/7/head"},
	}, {
		name: "other qualified ref",
		ref:  "refs/tags/v2",
		want: []string{"+refs/tags/v2:refs/tags/v2"},
	}, {
		name: "unqualified",
		ref:  "main",
		want: []string{
			"+refs/heads/main*:refs/remotes/origin/main*",
			"+refs/tags/main*:refs/tags/main*",
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RefSpec(tt.ref, tt.commit)
			if err != nil {
				t.Fatalf("RefSpec: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("RefSpec (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefSpecMissing(t *testing.T) {
	if _, err := RefSpec("", ""); !errors.Is(err, ErrMissingRefAndCommit) {
		t.Fatalf("RefSpec error = %v, want %v", err, ErrMissingRefAndCommit)
	}
}

func TestResolve(t *testing.T) {
	available := Available{
		RemoteBranches: []string{"origin/main", "origin/release"},
		Tags:           []string{"v1.0.0"},
	}

	tests := []struct {
		name    string
		ref     string
		commit  string
		want    CheckoutInfo
		wantErr error
	}{{
		name:   "commit only",
		commit: sha,
		want:   CheckoutInfo{Ref: sha},
	}, {
		name: "branch",
		ref:  "refs/heads/main",
		want: CheckoutInfo{Ref: "main", StartPoint: "refs/remotes/origin/main"},
	}, {
		name:   "branch with commit",
		ref:    "refs/heads/main",
		commit: sha,
		want:   CheckoutInfo{Ref: "main", StartPoint: "refs/remotes/origin/main"},
	}, {
		name: "pull",
		ref:  "refs/pull/3/merge",
		want: CheckoutInfo{Ref: "refs/remotes/pull/3/merge"},
	}, {
		name:   "tag with commit",
		ref:    "refs/tags/v1.0.0",
		commit: sha,
		want:   CheckoutInfo{Ref: sha},
	}, {
		name: "tag",
		ref:  "refs/tags/v1.0.0",
		want: CheckoutInfo{Ref: "refs/tags/v1.0.0"},
	}, {
		name: "unqualified branch",
		ref:  "release",
		want: CheckoutInfo{Ref: "release", StartPoint: "refs/remotes/origin/release"},
	}, {
		name: "unqualified tag",
		ref:  "v1.0.0",
		want: CheckoutInfo{Ref: "refs/tags/v1.0.0"},
	}, {
		name:    "unqualified missing",
		ref:     "nope",
		wantErr: ErrRefNotFound,
	}, {
		name:    "nothing",
		wantErr: ErrMissingRefAndCommit,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.ref, tt.commit, available)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLFSTarget(t *testing.T) {
	if got := (CheckoutInfo{Ref: "main", StartPoint: "refs/remotes/origin/main"}).LFSTarget(); got != "refs/remotes/origin/main" {
		t.Errorf("LFSTarget = %q", got)
	}
	if got := (CheckoutInfo{Ref: sha}).LFSTarget(); got != sha {
		t.Errorf("LFSTarget = %q", got)
	}
}
