package service

import (
	"github.com/textileio/tender-core/cmd/ledgerd/metrics"
)

func (s *Service) initMetrics() {
	s.metricProjects = metrics.Meter.NewInt64Counter(metrics.Prefix + ".registered_projects_total")
	s.metricSubmits = metrics.Meter.NewInt64Counter(metrics.Prefix + ".submitted_bids_total")
	s.metricReveals = metrics.Meter.NewInt64Counter(metrics.Prefix + ".revealed_bids_total")
	s.metricWithdraws = metrics.Meter.NewInt64Counter(metrics.Prefix + ".withdrawn_bids_total")
	s.metricControl = metrics.Meter.NewInt64Counter(metrics.Prefix + ".control_ops_total")
}
