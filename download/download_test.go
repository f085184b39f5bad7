/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package download

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/solarmonkey/checkout/retry"
)

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func tarball(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	// GitHub archives lead with a pax global header carrying the commit.
	if err := tw.WriteHeader(&tar.Header{
		Typeflag:   tar.TypeXGlobalHeader,
		Name:       "pax_global_header",
		PAXRecords: map[string]string{"comment": "0123456789abcdef0123456789abcdef01234567"},
		Format:     tar.FormatPAX,
	}); err != nil {
		t.Fatalf("WriteHeader(global): %v", err)
	}

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, Linkname: e.linkname, Mode: 0o644}
		switch e.typeflag {
		case tar.TypeDir:
			hdr.Mode = 0o755
		case tar.TypeReg:
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write(%s): %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}
	return buf.Bytes()
}

func widgetsTarball(t *testing.T) []byte {
	return tarball(t,
		entry{name: "acme-widgets-0123456/", typeflag: tar.TypeDir},
		entry{name: "acme-widgets-0123456/README.md", typeflag: tar.TypeReg, body: "widgets\n"},
		entry{name: "acme-widgets-0123456/src/", typeflag: tar.TypeDir},
		entry{name: "acme-widgets-0123456/src/main.go", typeflag: tar.TypeReg, body: "package main\n"},
		entry{name: "acme-widgets-0123456/docs", typeflag: tar.TypeSymlink, linkname: "src"},
	)
}

type fakeAPI struct {
	*httptest.Server

	archive       []byte
	defaultBranch string
	archiveFails  int32

	mu            sync.Mutex
	archiveRefs   []string
	authHeaders   []string
	downloadAuths []string
	archiveCalls  atomic.Int32
}

func (api *fakeAPI) seen() (refs, auths, downloads []string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	return slices.Clone(api.archiveRefs), slices.Clone(api.authHeaders), slices.Clone(api.downloadAuths)
}

func newFakeAPI(t *testing.T, archive []byte) *fakeAPI {
	t.Helper()
	api := &fakeAPI{archive: archive, defaultBranch: "trunk"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"widgets","default_branch":"` + api.defaultBranch + `"}`))
	})
	mux.HandleFunc("GET /repos/acme/widgets/tarball/{ref...}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.archiveRefs = append(api.archiveRefs, r.PathValue("ref"))
		api.authHeaders = append(api.authHeaders, r.Header.Get("Authorization"))
		api.mu.Unlock()
		http.Redirect(w, r, api.URL+"/codeload/archive.tar.gz", http.StatusFound)
	})
	mux.HandleFunc("GET /codeload/archive.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.downloadAuths = append(api.downloadAuths, r.Header.Get("Authorization"))
		api.mu.Unlock()
		if api.archiveCalls.Add(1) <= api.archiveFails {
			http.Error(w, "try again", http.StatusBadGateway)
			return
		}
		w.Write(api.archive)
	})
	mux.HandleFunc("GET /repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := New(WithAPIURL(api.URL), WithHTTPClient(api.Client()), WithRetry(fastRetry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func listTree(t *testing.T, dir string) []string {
	t.Helper()
	var got []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		got = append(got, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
	slices.Sort(got)
	return got
}

func TestDownload(t *testing.T) {
	api := newFakeAPI(t, widgetsTarball(t))
	c := newClient(t, api)
	dest := t.TempDir()

	err := c.Download(context.Background(), Request{
		Token:  "s3cr3t",
		Owner:  "acme",
		Name:   "widgets",
		Ref:    "refs/heads/main",
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Path:   dest,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	want := []string{"README.md", "docs", "src", "src/main.go"}
	if diff := cmp.Diff(want, listTree(t, dest)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if b, err := os.ReadFile(filepath.Join(dest, "README.md")); err != nil || string(b) != "widgets\n" {
		t.Errorf("README.md = %q, %v", b, err)
	}
	if target, err := os.Readlink(filepath.Join(dest, "docs")); err != nil || target != "src" {
		t.Errorf("Readlink(docs) = %q, %v", target, err)
	}

	refs, auths, downloads := api.seen()
	if diff := cmp.Diff([]string{"0123456789abcdef0123456789abcdef01234567"}, refs); diff != "" {
		t.Errorf("archive refs mismatch (-want +got):\n%s", diff)
	}
	if len(auths) != 1 || !strings.HasSuffix(auths[0], "s3cr3t") {
		t.Errorf("API auth headers = %v, want the token", auths)
	}
	if len(downloads) != 1 || downloads[0] != "" {
		t.Errorf("archive host auth headers = %v, want none", downloads)
	}
}

func TestDownloadRefWithoutCommit(t *testing.T) {
	api := newFakeAPI(t, widgetsTarball(t))
	c := newClient(t, api)

	if err := c.Download(context.Background(), Request{
		Owner: "acme",
		Name:  "widgets",
		Ref:   "refs/tags/v1.0.0",
		Path:  t.TempDir(),
	}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	refs, auths, _ := api.seen()
	if diff := cmp.Diff([]string{"refs/tags/v1.0.0"}, refs); diff != "" {
		t.Errorf("archive refs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{""}, auths); diff != "" {
		t.Errorf("anonymous request sent Authorization (-want +got):\n%s", diff)
	}
}

func TestDownloadDefaultBranch(t *testing.T) {
	api := newFakeAPI(t, widgetsTarball(t))
	c := newClient(t, api)

	if err := c.Download(context.Background(), Request{
		Owner: "acme",
		Name:  "widgets",
		Path:  t.TempDir(),
	}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	refs, _, _ := api.seen()
	if diff := cmp.Diff([]string{"trunk"}, refs); diff != "" {
		t.Errorf("archive refs mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloadRetriesArchive(t *testing.T) {
	api := newFakeAPI(t, widgetsTarball(t))
	api.archiveFails = 2
	c := newClient(t, api)
	dest := t.TempDir()

	if err := c.Download(context.Background(), Request{Owner: "acme", Name: "widgets", Ref: "main", Path: dest}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := api.archiveCalls.Load(); got != 3 {
		t.Errorf("archive requests = %d, want 3", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "README.md")); err != nil {
		t.Errorf("README.md missing after retried download: %v", err)
	}
}

func TestDownloadMissingRepository(t *testing.T) {
	api := newFakeAPI(t, widgetsTarball(t))
	c := newClient(t, api)

	err := c.Download(context.Background(), Request{Owner: "acme", Name: "missing", Path: t.TempDir()})
	if err == nil {
		t.Fatal("Download of a missing repository succeeded")
	}
	if strings.Contains(err.Error(), "retries") {
		t.Errorf("404 was retried: %v", err)
	}
}

func TestDownloadRejectsBadArchives(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry
	}{{
		name: "escaping path",
		entries: []entry{
			{name: "top/", typeflag: tar.TypeDir},
			{name: "top/../../evil", typeflag: tar.TypeReg, body: "x"},
		},
	}, {
		name: "escaping symlink",
		entries: []entry{
			{name: "top/", typeflag: tar.TypeDir},
			{name: "top/passwd", typeflag: tar.TypeSymlink, linkname: "../../../etc/passwd"},
		},
	}, {
		name: "symlink chain",
		entries: []entry{
			{name: "top/", typeflag: tar.TypeDir},
			{name: "top/a", typeflag: tar.TypeSymlink, linkname: "."},
			{name: "top/a/x", typeflag: tar.TypeSymlink, linkname: ".."},
		},
	}, {
		name: "file through symlinked directory",
		entries: []entry{
			{name: "top/", typeflag: tar.TypeDir},
			{name: "top/sub/", typeflag: tar.TypeDir},
			{name: "top/link", typeflag: tar.TypeSymlink, linkname: "sub"},
			{name: "top/link/f", typeflag: tar.TypeReg, body: "x"},
		},
	}, {
		name: "file over symlink",
		entries: []entry{
			{name: "top/", typeflag: tar.TypeDir},
			{name: "top/f", typeflag: tar.TypeSymlink, linkname: "g"},
			{name: "top/f", typeflag: tar.TypeReg, body: "x"},
		},
	}, {
		name: "two top-level directories",
		entries: []entry{
			{name: "one/", typeflag: tar.TypeDir},
			{name: "two/", typeflag: tar.TypeDir},
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, tarball(t, tt.entries...))
			c := newClient(t, api)
			dest := t.TempDir()

			if err := c.Download(context.Background(), Request{Owner: "acme", Name: "widgets", Ref: "main", Path: dest}); err == nil {
				t.Fatal("Download succeeded, want error")
			}
			if got := listTree(t, dest); len(got) != 0 {
				t.Errorf("temporaries left behind: %v", got)
			}
		})
	}
}

func TestNewRejectsBadRetry(t *testing.T) {
	if _, err := New(WithRetry(retry.Config{MaxRetries: -1})); err == nil {
		t.Error("New with negative retries succeeded")
	}
}
