/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		attempt  int
		min, max time.Duration
	}{{
		name:    "first retry",
		cfg:     Config{BaseBackoff: time.Second, MaxBackoff: time.Minute},
		attempt: 1,
		min:     time.Second,
		max:     time.Second,
	}, {
		name:    "doubles",
		cfg:     Config{BaseBackoff: time.Second, MaxBackoff: time.Minute},
		attempt: 3,
		min:     4 * time.Second,
		max:     4 * time.Second,
	}, {
		name:    "capped",
		cfg:     Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second},
		attempt: 10,
		min:     5 * time.Second,
		max:     5 * time.Second,
	}, {
		name:    "shift overflow",
		cfg:     Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second},
		attempt: 80,
		min:     5 * time.Second,
		max:     5 * time.Second,
	}, {
		name:    "jitter stays under the cap",
		cfg:     DefaultConfig(),
		attempt: 1,
		min:     10 * time.Second,
		max:     20 * time.Second,
	}, {
		name:    "base above cap",
		cfg:     Config{BaseBackoff: time.Minute, MaxBackoff: time.Second},
		attempt: 1,
		min:     time.Minute,
		max:     time.Minute,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 20 {
				if got := tt.cfg.delay(tt.attempt); got < tt.min || got > tt.max {
					t.Fatalf("delay(%d) = %v, want within [%v, %v]", tt.attempt, got, tt.min, tt.max)
				}
			}
		})
	}
}
