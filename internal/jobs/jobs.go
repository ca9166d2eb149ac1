package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vrsandeep/feedsub-go/internal/fetch"
)

// How long an unsubscribed one-off download may sit in storage before the
// prune job reclaims it.
const pruneAfter = 24 * time.Hour

// RegisterAll registers the maintenance jobs with the job manager.
func RegisterAll(jm *JobManager) {
	jm.Register("tool-update", runToolUpdate)
	jm.Register("prune-downloads", runPruneDownloads)
}

// StartJobs starts the background job scheduler.
func StartJobs(app JobContext) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startToolUpdateJob(s, app)
	startPruneJob(s, app)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
}

func startToolUpdateJob(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().Tool.UpdateInterval
	if interval == 0 {
		log.Println("Tool update interval is 0, scheduled updates are disabled.")
		return
	}

	jobId := "tool-update"
	log.Printf("Scheduling job: '%s' to run every %s.", jobId, interval)

	_, err := s.Every(interval).Do(func() {
		log.Println("Scheduler is triggering job:", jobId)
		// Submit the job to the manager instead of running it directly.
		// This prevents conflicts with manually triggered jobs.
		if err := app.JobManager().RunJob(jobId, app); err != nil {
			log.Printf("Scheduled job '%s' could not start: %v", jobId, err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", jobId, err)
	}
}

func startPruneJob(s *gocron.Scheduler, app JobContext) {
	jobId := "prune-downloads"
	log.Printf("Scheduling job: '%s' to run every 6 hours.", jobId)

	_, err := s.Every(6).Hours().Do(func() {
		if err := app.JobManager().RunJob(jobId, app); err != nil {
			log.Printf("Scheduled job '%s' could not start: %v", jobId, err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", jobId, err)
	}
}

// runToolUpdate updates the fetch tool to the latest stable release and
// logs whether that changed the installed version.
func runToolUpdate(app JobContext) {
	ctx := context.Background()
	tool := app.Tool()

	before, err := tool.Version(ctx)
	if err != nil {
		log.Printf("Could not read tool version before update: %v", err)
	}
	if err := tool.Update(ctx); err != nil {
		log.Printf("Tool update failed: %v", err)
		return
	}
	after, err := tool.Version(ctx)
	if err != nil {
		log.Printf("Could not read tool version after update: %v", err)
		return
	}
	if fetch.NewerVersion(before, after) {
		log.Printf("Fetch tool updated: %s -> %s", before, after)
	} else {
		log.Printf("Fetch tool already up to date (%s)", after)
	}
}

// runPruneDownloads reclaims storage from stale one-off downloads.
func runPruneDownloads(app JobContext) {
	pruned := app.Subs().PruneDownloads(pruneAfter)
	if pruned > 0 {
		log.Printf("Pruned %d stale download(s)", pruned)
	}
}
