package ingest

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler triggers the daily batch once per local day at a fixed hour.
type Scheduler struct {
	daily    *DailyJobs
	loc      *time.Location
	runHour  int
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastRun string
}

func NewScheduler(daily *DailyJobs, loc *time.Location, runHour int) *Scheduler {
	return &Scheduler{
		daily:    daily,
		loc:      loc,
		runHour:  runHour,
		interval: 10 * time.Minute,
		now:      time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.runDailyJobsIfNeeded(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.runDailyJobsIfNeeded(ctx)
		}
	}
}

// runDailyJobsIfNeeded runs the batch when the local clock is inside the run
// hour and today's batch hasn't run yet. Reports whether it ran.
func (s *Scheduler) runDailyJobsIfNeeded(ctx context.Context) bool {
	localNow := s.now().In(s.loc)
	if localNow.Hour() != s.runHour {
		return false
	}
	today := localNow.Format("2006-01-02")

	s.mu.Lock()
	if s.lastRun == today {
		s.mu.Unlock()
		return false
	}
	s.lastRun = today
	s.mu.Unlock()

	forDate := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, s.loc)
	results, err := s.daily.RunAll(ctx, forDate)
	if err != nil {
		log.Printf("scheduler: daily run: %v", err)
		return true
	}
	log.Printf("scheduler: daily run finished for %d buoys", len(results))
	return true
}
