package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_integrity_runs_total",
			Help: "Total number of integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityFilesCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_integrity_files_checked_total",
			Help: "Total number of registered table files checked against object storage.",
		},
	)
	integrityMissingFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_integrity_missing_files_total",
			Help: "Total number of registered table files missing from object storage.",
		},
	)
	integritySizeMismatchFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_integrity_size_mismatch_files_total",
			Help: "Total number of table files whose stored size differs from the catalog.",
		},
	)
	orphansDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_orphan_objects_deleted_total",
			Help: "Total number of unregistered table objects removed from object storage.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		integrityRunsTotal,
		integrityFilesCheckedTotal,
		integrityMissingFilesTotal,
		integritySizeMismatchFilesTotal,
		orphansDeletedTotal,
	)
}
