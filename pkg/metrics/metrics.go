package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts report batches by result: accepted, ping, invalid, unauthorized, error
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starminers_submissions_total",
			Help: "Total number of report batches by result",
		},
		[]string{"result"},
	)

	// MergeOutcomes counts report entries by what they did to the store.
	// "contradiction" entries were dropped without telling the submitter.
	MergeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starminers_merge_outcomes_total",
			Help: "Total number of report entries by merge outcome",
		},
		[]string{"outcome"},
	)

	WhitelistChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starminers_whitelist_changes_total",
			Help: "Total number of scout whitelist mutations by operation",
		},
		[]string{"operation"},
	)

	ViewReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starminers_view_reads_total",
			Help: "Total number of view reads by view",
		},
		[]string{"view"},
	)

	FeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starminers_feed_subscribers",
			Help: "Current number of live feed subscribers",
		},
	)
)
