// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("refresh", "")
	m.RecordOperation("refresh", "TOKEN_REFRESH_INVALID")
	m.RecordOperation("refresh", "TOKEN_REFRESH_INVALID")

	if got := testutil.ToFloat64(m.AuthOperations.WithLabelValues("refresh", "ok")); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AuthOperations.WithLabelValues("refresh", "TOKEN_REFRESH_INVALID")); got != 2 {
		t.Errorf("invalid count = %v, want 2", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("login", "")
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(reg)
}
