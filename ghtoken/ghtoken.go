/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package ghtoken resolves the credential used for fetching: a static token
// supplied by the caller, or an installation token minted for a GitHub App.
package ghtoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"
)

// Config selects the token source. Token wins over App credentials.
type Config struct {
	Token string

	AppID          int64
	InstallationID int64
	PrivateKeyPath string

	// APIURL is the REST API root used to mint installation tokens.
	APIURL string
	// Transport is the base transport; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// NewTokenSource returns a source for cfg, or nil when cfg configures no
// credentials and requests should be anonymous.
func NewTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}), nil
	}
	if cfg.AppID == 0 && cfg.InstallationID == 0 && cfg.PrivateKeyPath == "" {
		return nil, nil
	}
	if cfg.AppID == 0 || cfg.InstallationID == 0 || cfg.PrivateKeyPath == "" {
		return nil, errors.New("app id, installation id and private key path must all be set")
	}

	privateKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	tr, err := ghinstallation.New(base, cfg.AppID, cfg.InstallationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	if cfg.APIURL != "" {
		tr.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
	}

	clog.FromContext(ctx).Infof("Using installation %d of app %d", cfg.InstallationID, cfg.AppID)
	return oauth2.ReuseTokenSource(nil, &installationSource{ctx: ctx, tr: tr}), nil
}

// installationSource adapts an installation transport to oauth2.TokenSource.
type installationSource struct {
	ctx context.Context
	tr  *ghinstallation.Transport
}

func (s *installationSource) Token() (*oauth2.Token, error) {
	token, err := s.tr.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	expiry, _, err := s.tr.Expiry()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, Expiry: expiry}, nil
}

// Resolve returns the access token for cfg, or "" when no credentials are
// configured.
func Resolve(ctx context.Context, cfg Config) (string, error) {
	ts, err := NewTokenSource(ctx, cfg)
	if err != nil || ts == nil {
		return "", err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
