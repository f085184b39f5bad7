/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the checkout command. The first invocation in a
// job synchronizes the repository; the second, once the state file records
// that the main phase ran, removes any persisted credentials.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/solarmonkey/checkout/ghtoken"
	"github.com/solarmonkey/checkout/metrics"
	"github.com/solarmonkey/checkout/secretmask"
	"github.com/solarmonkey/checkout/settings"
	"github.com/solarmonkey/checkout/sourcesync"
	"github.com/solarmonkey/checkout/state"
)

type config struct {
	// StateFile carries state from the main phase to the post phase.
	StateFile string `env:"CHECKOUT_STATE_FILE"`
	// MetricsTextfile, when set, receives the Prometheus metrics on exit.
	MetricsTextfile string `env:"METRICS_TEXTFILE"`
	Debug           bool   `env:"RUNNER_DEBUG,default=false"`

	// These identify the job step so the default state file is not shared
	// with other jobs on the same runner.
	RunID      string `env:"GITHUB_RUN_ID"`
	RunAttempt string `env:"GITHUB_RUN_ATTEMPT"`
	Job        string `env:"GITHUB_JOB"`
	Action     string `env:"GITHUB_ACTION"`
}

var unsafeNameRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// stateFile is the configured state file, or one under dir named after the
// current job step.
func (c config) stateFile(dir string) string {
	if c.StateFile != "" {
		return c.StateFile
	}
	name := "checkout-state"
	for _, part := range []string{c.RunID, c.RunAttempt, c.Job, c.Action} {
		if part = strings.Trim(unsafeNameRE.ReplaceAllString(part, "_"), "."); part != "" {
			name += "-" + part
		}
	}
	return filepath.Join(dir, name+".yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	masker := secretmask.NewHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx = clog.WithLogger(ctx, clog.New(masker))

	store := state.NewFile(cfg.stateFile(os.TempDir()))
	s := sourcesync.New(
		sourcesync.WithStateStore(store),
		sourcesync.WithMasker(masker),
	)

	err := run(ctx, s, store, masker)
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			clog.WarnContextf(ctx, "writing metrics to %s: %v", cfg.MetricsTextfile, err)
		}
	}
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}
}

func run(ctx context.Context, s *sourcesync.Synchronizer, store state.Store, masker *secretmask.Handler) error {
	isPost, _, err := store.Load(state.IsPostKey)
	if err != nil {
		return err
	}
	if isPost == "true" {
		post(ctx, s, store)
		return nil
	}
	if err := store.Save(state.IsPostKey, "true"); err != nil {
		return err
	}

	in, err := settings.Load(ctx, nil)
	if err != nil {
		return err
	}
	st, err := settings.Resolve(in)
	if err != nil {
		return err
	}

	token, err := ghtoken.Resolve(ctx, ghtoken.Config{
		Token:          in.Token,
		AppID:          in.AppID,
		InstallationID: in.InstallationID,
		PrivateKeyPath: in.PrivateKeyPath,
		APIURL:         st.APIURL,
	})
	if err != nil {
		return err
	}
	masker.AddSecret(token)
	st.AuthToken = token

	return s.Synchronize(ctx, st)
}

// post removes credentials persisted by the main phase, then resets the
// store so the next invocation runs the main phase again. It never fails.
func post(ctx context.Context, s *sourcesync.Synchronizer, store state.Store) {
	defer func() {
		if err := store.Reset(); err != nil {
			clog.WarnContextf(ctx, "Unable to reset checkout state: %v", err)
		}
	}()

	path, ok, err := store.Load(state.RepositoryPathKey)
	if err != nil || !ok {
		clog.DebugContextf(ctx, "No repository path recorded, nothing to clean up (err=%v)", err)
		return
	}

	var serverURL string
	if in, err := settings.Load(ctx, nil); err == nil {
		serverURL = in.ServerURL
	}
	s.Cleanup(ctx, path, serverURL)
}
