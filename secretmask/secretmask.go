/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package secretmask redacts registered secrets from structured logs.
//
// A Handler wraps another slog.Handler. Every secret passed to AddSecret is
// replaced with "***" in record messages and in string-valued attributes,
// including attributes nested in groups and attributes attached through
// WithAttrs. Handlers derived with WithAttrs/WithGroup share the secret set
// of their parent, so secrets registered after a logger was derived are
// still redacted.
package secretmask

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Mask replaces each secret occurrence.
const Mask = "***"

type secrets struct {
	mu       sync.RWMutex
	values   []string
	replacer *strings.Replacer
}

// Handler is a slog.Handler that redacts secrets before delegating.
type Handler struct {
	next    slog.Handler
	secrets *secrets
	// goas are the WithGroup/WithAttrs calls made on this handler, replayed
	// onto next at Handle time.
	goas []groupOrAttrs
}

type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler wraps next.
func NewHandler(next slog.Handler) *Handler {
	return &Handler{next: next, secrets: &secrets{}}
}

// AddSecret registers a value to redact. Empty values are ignored.
func (h *Handler) AddSecret(value string) {
	if value == "" {
		return
	}
	s := h.secrets
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.values, value) {
		return
	}
	s.values = append(s.values, value)
	// Longest first so a secret containing another is masked whole.
	slices.SortFunc(s.values, func(a, b string) int { return len(b) - len(a) })
	pairs := make([]string, 0, 2*len(s.values))
	for _, v := range s.values {
		pairs = append(pairs, v, Mask)
	}
	s.replacer = strings.NewReplacer(pairs...)
}

// Redact returns s with every registered secret masked.
func (h *Handler) Redact(s string) string {
	h.secrets.mu.RLock()
	r := h.secrets.replacer
	h.secrets.mu.RUnlock()
	if r == nil {
		return s
	}
	return r.Replace(s)
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	next := h.next
	for _, goa := range h.goas {
		if goa.group != "" {
			next = next.WithGroup(goa.group)
			continue
		}
		attrs := make([]slog.Attr, 0, len(goa.attrs))
		for _, a := range goa.attrs {
			attrs = append(attrs, h.redactAttr(a))
		}
		next = next.WithAttrs(attrs)
	}

	out := slog.NewRecord(r.Time, r.Level, h.Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return next.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(groupOrAttrs{attrs: slices.Clone(attrs)})
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(groupOrAttrs{group: name})
}

func (h *Handler) with(goa groupOrAttrs) *Handler {
	goas := make([]groupOrAttrs, 0, len(h.goas)+1)
	goas = append(goas, h.goas...)
	goas = append(goas, goa)
	return &Handler{next: h.next, secrets: h.secrets, goas: goas}
}

func (h *Handler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]any, 0, len(group))
		for _, ga := range group {
			redacted = append(redacted, h.redactAttr(ga))
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.Redact(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}
