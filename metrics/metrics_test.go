/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordReconcile(t *testing.T) {
	before := testutil.ToFloat64(ReconcileCount(OutcomeRecreated, "url-mismatch"))
	RecordReconcile(OutcomeRecreated, "url-mismatch")
	RecordReconcile(OutcomeRecreated, "url-mismatch")
	if got := testutil.ToFloat64(ReconcileCount(OutcomeRecreated, "url-mismatch")); got != before+2 {
		t.Errorf("recreated count = %v, want %v", got, before+2)
	}
}

func TestWriteTextfile(t *testing.T) {
	RecordReconcile(OutcomeReused, "")
	RecordCredentialCleanupFailure()

	path := filepath.Join(t.TempDir(), "checkout.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{"checkout_workdir_reconcile_total", "checkout_credential_cleanup_failures_total"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %s", want)
		}
	}
}

func TestSyncRecordRunWithoutProvider(t *testing.T) {
	// The global meter provider is a no-op until configured; recording
	// must not panic.
	s := NewSync("github.com/solarmonkey/checkout/test")
	s.RecordRun(context.Background(), ModeGateway, nil, time.Second)
	s.RecordRun(context.Background(), ModeDownload, errors.New("boom"), time.Millisecond)
}
