/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package credentials injects a short-lived access token into a repository
// as an extra HTTP header, and guarantees its removal.
//
// The token never appears on a command line: the config key is first set to
// a fixed placeholder through the gateway, and the placeholder is then
// replaced with the real header value by editing the config file directly.
package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/solarmonkey/checkout/gateway"
	"github.com/solarmonkey/checkout/metrics"
)

const (
	// Placeholder is written through the gateway before the real value.
	Placeholder = "AUTHORIZATION: basic ***"

	headerPrefix = "AUTHORIZATION: basic "
	tokenUser    = "x-access-token"
)

// ErrAmbiguousPlaceholder is returned when the placeholder does not occur
// exactly once in the config file, so a substitution could hit the wrong
// entry.
var ErrAmbiguousPlaceholder = errors.New("ambiguous placeholder")

// Masker registers values to redact from logs.
type Masker interface {
	AddSecret(value string)
}

// HeaderKey returns the extra-header config key scoped to serverURL's
// scheme and host, e.g. "http.https://github.com/.extraheader".
func HeaderKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url %q: %w", serverURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("server url %q must include a scheme and host", serverURL)
	}
	return fmt.Sprintf("http.%s://%s/.extraheader", u.Scheme, u.Host), nil
}

// HeaderValue returns the header value carrying token.
func HeaderValue(token string) string {
	return headerPrefix + encode(token)
}

func encode(token string) string {
	return base64.StdEncoding.EncodeToString([]byte(tokenUser + ":" + token))
}

// Manager owns the auth config entry of one repository.
type Manager struct {
	gw     gateway.Gateway
	key    string
	masker Masker
}

// New returns a Manager writing key through gw. masker may be nil.
func New(gw gateway.Gateway, key string, masker Masker) *Manager {
	return &Manager{gw: gw, key: key, masker: masker}
}

// Key is the config key the Manager writes.
func (m *Manager) Key() string {
	return m.key
}

// Inject writes the auth header for token.
func (m *Manager) Inject(ctx context.Context, token string) error {
	if err := m.gw.Config(ctx, m.key, Placeholder); err != nil {
		return fmt.Errorf("writing auth placeholder: %w", err)
	}

	encoded := encode(token)
	if m.masker != nil {
		m.masker.AddSecret(token)
		m.masker.AddSecret(encoded)
	}

	path := filepath.Join(m.gw.WorkingDirectory(), ".git", "config")
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)
	if n := strings.Count(content, Placeholder); n != 1 {
		return fmt.Errorf("%w: %d occurrences of %q in %s", ErrAmbiguousPlaceholder, n, Placeholder, path)
	}
	content = strings.Replace(content, Placeholder, headerPrefix+encoded, 1)

	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	clog.FromContext(ctx).Debugf("Configured auth header %s", m.key)
	return nil
}

// Remove unsets the auth entry when it exists.
func (m *Manager) Remove(ctx context.Context) error {
	exists, err := m.gw.ConfigExists(ctx, m.key)
	if err != nil {
		return fmt.Errorf("checking %s: %w", m.key, err)
	}
	if !exists {
		return nil
	}
	if err := m.gw.ConfigUnset(ctx, m.key); err != nil {
		return fmt.Errorf("unsetting %s: %w", m.key, err)
	}
	return nil
}

// RemoveBestEffort calls Remove and logs a failure instead of returning it.
func (m *Manager) RemoveBestEffort(ctx context.Context) {
	if err := m.Remove(ctx); err != nil {
		metrics.RecordCredentialCleanupFailure()
		clog.FromContext(ctx).Warnf("Failed to remove auth config entry: %v", err)
	}
}

// Bracket injects token, runs fn, and removes the entry afterwards on every
// exit path, including a failed injection. With persist set the entry is
// left in place. An empty token skips injection.
func (m *Manager) Bracket(ctx context.Context, token string, persist bool, fn func(context.Context) error) error {
	if !persist {
		defer m.RemoveBestEffort(ctx)
	}

	if token == "" {
		clog.FromContext(ctx).Debugf("No token supplied, fetching anonymously")
	} else if err := m.Inject(ctx, token); err != nil {
		return err
	}
	return fn(ctx)
}
