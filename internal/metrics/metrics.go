package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the cutoff store.
type Registry struct {
	// Write path
	Writes                 prometheus.Counter
	WriteDuration          prometheus.Histogram
	ImmutabilityViolations prometheus.Counter

	// Recovery and backups
	Recoveries  prometheus.Counter
	BackupFiles prometheus.Gauge

	// Table state
	Records prometheus.Gauge

	// Import/export
	ImportedRecords *prometheus.CounterVec
	SkippedRecords  *prometheus.CounterVec
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// Default returns the process-wide metrics registry, registering all
// collectors with the default Prometheus registerer on first use.
func Default() *Registry {
	once.Do(func() {
		defaultRegistry = newRegistry()
		prometheus.MustRegister(
			defaultRegistry.Writes,
			defaultRegistry.WriteDuration,
			defaultRegistry.ImmutabilityViolations,
			defaultRegistry.Recoveries,
			defaultRegistry.BackupFiles,
			defaultRegistry.Records,
			defaultRegistry.ImportedRecords,
			defaultRegistry.SkippedRecords,
		)
	})
	return defaultRegistry
}

func newRegistry() *Registry {
	return &Registry{
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutoffdb_writes_total",
			Help: "Successful persisted writes of the cutoff table",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cutoffdb_write_duration_seconds",
			Help:    "Duration of a full table persist (serialize, backup, swap, prune)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		ImmutabilityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutoffdb_immutability_violations_total",
			Help: "Rejected attempts to overwrite an existing cutoff record",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutoffdb_backup_recoveries_total",
			Help: "Loads that fell back to a backup after primary file corruption",
		}),
		BackupFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cutoffdb_backup_files",
			Help: "Backup files currently retained",
		}),
		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cutoffdb_records",
			Help: "Cutoff records in the table",
		}),
		ImportedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutoffdb_imported_records_total",
			Help: "Records accepted during import",
		}, []string{"format"}),
		SkippedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutoffdb_skipped_records_total",
			Help: "Records skipped during import (duplicates or invalid rows)",
		}, []string{"format", "reason"}),
	}
}
