package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"demandline/internal/metrics"
)

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Action("completed")
	m.Action("completed")
	m.Rejected("confirm", "not_authorized")
	m.Report("csv", "summary")
	m.SessionOpened()

	n, err := testutil.GatherAndCount(reg, "demandline_actions_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	problems, err := testutil.GatherAndLint(reg)
	assert.NoError(t, err)
	assert.Empty(t, problems)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Action("created")
		m.Rejected("create", "validation")
		m.Report("pdf", "complete")
		m.SessionOpened()
		m.SessionClosed()
	})
	assert.NotPanics(t, func() { metrics.New(nil).Action("created") })
}
