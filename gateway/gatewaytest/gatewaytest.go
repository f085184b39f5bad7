/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package gatewaytest provides an in-memory gateway.Gateway for tests. It
// keeps config in a real <dir>/.git/config file (one "key = value" per line)
// so code that edits the config file directly can be exercised, and it
// materializes a fake remote tree into the working directory on checkout.
package gatewaytest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/solarmonkey/checkout/gateway"
)

// Remote is the state of the fake remote repository.
type Remote struct {
	// Branches are branch names without the refs/heads/ prefix.
	Branches []string
	// Tags are tag names without the refs/tags/ prefix.
	Tags []string
	// DefaultBranch is returned qualified by RemoteDefaultBranch.
	DefaultBranch string
	// Files is the tree written into the working directory on checkout,
	// keyed by slash-separated relative path.
	Files map[string]string
	// Commit is reported by LogMostRecent.
	Commit string
}

// Fake is an in-memory gateway.Gateway.
type Fake struct {
	Dir    string
	Remote Remote

	// Fail maps a method name (for example "Fetch" or "TryClean") to the
	// error that method returns.
	Fail          map[string]error
	// FailConfigKey maps a config key to the error Config returns when
	// setting that key. Other keys are unaffected.
	FailConfigKey map[string]error

	Detached       bool
	LocalBranches  []string
	RemoteBranches []string
	LocalTags      []string

	mu    sync.Mutex
	calls []string
}

var _ gateway.Gateway = (*Fake)(nil)

// New returns a Fake rooted at dir with an empty remote.
func New(dir string) *Fake {
	return &Fake{
		Dir:  dir,
		Fail:          map[string]error{},
		FailConfigKey: map[string]error{},
		Remote: Remote{
			DefaultBranch: "main",
			Branches:      []string{"main"},
			Files:         map[string]string{},
			Commit:        "0000000000000000000000000000000000000000",
		},
	}
}

// Calls returns every recorded invocation in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Called reports whether a call with the given prefix was recorded.
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// ConfigPath is the path of the fake repository's config file.
func (f *Fake) ConfigPath() string {
	return filepath.Join(f.Dir, ".git", "config")
}

func (f *Fake) record(method string, format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := method
	if format != "" {
		call += " " + fmt.Sprintf(format, args...)
	}
	f.calls = append(f.calls, call)
	return f.Fail[method]
}

func (f *Fake) Init(context.Context) error {
	if err := f.record("Init", ""); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(f.Dir, ".git"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.ConfigPath(), nil, 0o644)
}

func (f *Fake) RemoteAdd(ctx context.Context, name, url string) error {
	if err := f.record("RemoteAdd", "%s %s", name, url); err != nil {
		return err
	}
	return f.setConfig("remote."+name+".url", url)
}

func (f *Fake) RemoteDefaultBranch(_ context.Context, url string) (string, error) {
	if err := f.record("RemoteDefaultBranch", "%s", url); err != nil {
		return "", err
	}
	return "refs/heads/" + f.Remote.DefaultBranch, nil
}

func (f *Fake) Fetch(_ context.Context, refSpecs []string, depth int) error {
	if err := f.record("Fetch", "depth=%d %s", depth, strings.Join(refSpecs, " ")); err != nil {
		return err
	}
	f.RemoteBranches = f.RemoteBranches[:0]
	for _, b := range f.Remote.Branches {
		f.RemoteBranches = append(f.RemoteBranches, "origin/"+b)
	}
	f.LocalTags = slices.Clone(f.Remote.Tags)
	return nil
}

func (f *Fake) Checkout(_ context.Context, ref, startPoint string) error {
	if err := f.record("Checkout", "%s %s", ref, startPoint); err != nil {
		return err
	}
	if startPoint != "" {
		if !slices.Contains(f.LocalBranches, ref) {
			f.LocalBranches = append(f.LocalBranches, ref)
		}
		f.Detached = false
	} else {
		f.Detached = true
	}
	return f.writeTree()
}

func (f *Fake) CheckoutDetach(context.Context) error {
	if err := f.record("CheckoutDetach", ""); err != nil {
		return err
	}
	f.Detached = true
	return nil
}

func (f *Fake) IsDetached(context.Context) (bool, error) {
	if err := f.record("IsDetached", ""); err != nil {
		return false, err
	}
	return f.Detached, nil
}

func (f *Fake) BranchList(_ context.Context, remote bool) ([]string, error) {
	if err := f.record("BranchList", "remote=%t", remote); err != nil {
		return nil, err
	}
	if remote {
		return slices.Clone(f.RemoteBranches), nil
	}
	return slices.Clone(f.LocalBranches), nil
}

func (f *Fake) BranchDelete(_ context.Context, remote bool, branch string) error {
	if err := f.record("BranchDelete", "remote=%t %s", remote, branch); err != nil {
		return err
	}
	if remote {
		f.RemoteBranches = slices.DeleteFunc(f.RemoteBranches, func(b string) bool { return b == branch })
	} else {
		f.LocalBranches = slices.DeleteFunc(f.LocalBranches, func(b string) bool { return b == branch })
	}
	return nil
}

func (f *Fake) TagList(context.Context) ([]string, error) {
	if err := f.record("TagList", ""); err != nil {
		return nil, err
	}
	return slices.Clone(f.LocalTags), nil
}

// TryClean removes every file that is not part of the remote tree.
func (f *Fake) TryClean(context.Context) error {
	if err := f.record("TryClean", ""); err != nil {
		return err
	}
	return filepath.WalkDir(f.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.Dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if rel == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := f.Remote.Files[filepath.ToSlash(rel)]; !ok {
			return os.Remove(path)
		}
		return nil
	})
}

// TryReset rewrites every file of the remote tree.
func (f *Fake) TryReset(context.Context) error {
	if err := f.record("TryReset", ""); err != nil {
		return err
	}
	return f.writeTree()
}

func (f *Fake) Config(_ context.Context, key, value string) error {
	if err := f.record("Config", "%s %s", key, value); err != nil {
		return err
	}
	if err := f.FailConfigKey[key]; err != nil {
		return err
	}
	return f.setConfig(key, value)
}

func (f *Fake) ConfigGet(_ context.Context, key string) (string, error) {
	if err := f.record("ConfigGet", "%s", key); err != nil {
		return "", err
	}
	cfg, err := f.readConfig()
	if err != nil {
		return "", err
	}
	for _, kv := range cfg {
		if kv[0] == key {
			return kv[1], nil
		}
	}
	return "", fmt.Errorf("config key %q not set", key)
}

func (f *Fake) ConfigExists(_ context.Context, key string) (bool, error) {
	if err := f.record("ConfigExists", "%s", key); err != nil {
		return false, err
	}
	cfg, err := f.readConfig()
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(cfg, func(kv [2]string) bool { return kv[0] == key }), nil
}

func (f *Fake) ConfigUnset(_ context.Context, key string) error {
	if err := f.record("ConfigUnset", "%s", key); err != nil {
		return err
	}
	cfg, err := f.readConfig()
	if err != nil {
		return err
	}
	return f.writeConfig(slices.DeleteFunc(cfg, func(kv [2]string) bool { return kv[0] == key }))
}

func (f *Fake) FetchURL(ctx context.Context) (string, error) {
	if err := f.record("FetchURL", ""); err != nil {
		return "", err
	}
	cfg, err := f.readConfig()
	if err != nil {
		return "", err
	}
	for _, kv := range cfg {
		if kv[0] == "remote.origin.url" {
			return kv[1], nil
		}
	}
	return "", errors.New("no origin remote")
}

func (f *Fake) LFSInstall(context.Context) error {
	return f.record("LFSInstall", "")
}

func (f *Fake) LFSFetch(_ context.Context, ref string) error {
	return f.record("LFSFetch", "%s", ref)
}

func (f *Fake) LogMostRecent(context.Context) (string, error) {
	if err := f.record("LogMostRecent", ""); err != nil {
		return "", err
	}
	return "commit " + f.Remote.Commit, nil
}

func (f *Fake) WorkingDirectory() string {
	return f.Dir
}

// ConfigValue reads key straight from the config file, without recording a
// call. It returns false when the key is absent.
func (f *Fake) ConfigValue(key string) (string, bool) {
	cfg, err := f.readConfig()
	if err != nil {
		return "", false
	}
	for _, kv := range cfg {
		if kv[0] == key {
			return kv[1], true
		}
	}
	return "", false
}

func (f *Fake) writeTree() error {
	for name, content := range f.Remote.Files {
		p := filepath.Join(f.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) setConfig(key, value string) error {
	cfg, err := f.readConfig()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(cfg, func(kv [2]string) bool { return kv[0] == key })
	if i >= 0 {
		cfg[i][1] = value
	} else {
		cfg = append(cfg, [2]string{key, value})
	}
	return f.writeConfig(cfg)
}

func (f *Fake) readConfig() ([][2]string, error) {
	file, err := os.Open(f.ConfigPath())
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg [][2]string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		k, v, ok := strings.Cut(scanner.Text(), " = ")
		if !ok {
			continue
		}
		cfg = append(cfg, [2]string{strings.TrimSpace(k), v})
	}
	return cfg, scanner.Err()
}

func (f *Fake) writeConfig(cfg [][2]string) error {
	var sb strings.Builder
	for _, kv := range cfg {
		fmt.Fprintf(&sb, "\t%s = %s\n", kv[0], kv[1])
	}
	return os.WriteFile(f.ConfigPath(), []byte(sb.String()), 0o644)
}
