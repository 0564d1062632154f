package jobs

import (
	"time"

	"github.com/riverqueue/river"
)

// Queues lists the queues workers of this package consume besides the
// default one.
func Queues() []string {
	return []string{QueueMasters, QueueTransactions}
}

// PeriodicJobs returns the maintenance jobs the server schedules. Both run
// once on startup.
func PeriodicJobs(refreshInterval time.Duration) []*river.PeriodicJob {
	if refreshInterval <= 0 {
		refreshInterval = 10 * time.Minute
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(refreshInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CatalogRefreshArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return SyncLogCompactArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
