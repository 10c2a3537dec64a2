package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
	GetNextRunTime() time.Time
}

// OpsRecorder receives job outcome signals for monitoring. Implemented by
// services.Metrics; nil-safe.
type OpsRecorder interface {
	RecordJobRun(job string, success bool, seconds float64)
}

// runRecord remembers a job's most recent run for status reporting.
type runRecord struct {
	at  time.Time
	err error
}

// Scheduler manages and runs background jobs on their own timetables
type Scheduler struct {
	jobs     map[string]Job
	timers   map[string]*time.Timer
	lastRuns map[string]runRecord
	ops      OpsRecorder
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a new job scheduler. ops may be nil.
func NewScheduler(ops OpsRecorder) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:     make(map[string]Job),
		timers:   make(map[string]*time.Timer),
		lastRuns: make(map[string]runRecord),
		ops:      ops,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a job to the scheduler
func (s *Scheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = job
	log.Printf("✅ [SCHEDULER] Registered job: %s", name)
}

// Start begins running all registered jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))

	for name, job := range s.jobs {
		s.scheduleJob(name, job)
	}
}

// scheduleJob arms the timer for a single job
func (s *Scheduler) scheduleJob(name string, job Job) {
	nextRun := job.GetNextRunTime()
	duration := time.Until(nextRun)

	log.Printf("⏰ [SCHEDULER] Job '%s' scheduled to run at %s (in %v)",
		name, nextRun.Format(time.RFC3339), duration)

	timer := time.AfterFunc(duration, func() {
		s.runJob(name, job)
	})

	s.timers[name] = timer
}

// runJob executes a job and reschedules it
func (s *Scheduler) runJob(name string, job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.execute(name, job)

	// Reschedule the job
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.scheduleJob(name, job)
	}
}

// execute runs a job once, recording the outcome for status reporting and
// the ops metrics
func (s *Scheduler) execute(name string, job Job) error {
	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	err := job.Run(s.ctx)
	elapsed := time.Since(startTime)

	s.mu.Lock()
	s.lastRuns[name] = runRecord{at: startTime, err: err}
	s.mu.Unlock()

	if s.ops != nil {
		s.ops.RecordJobRun(name, err == nil, elapsed.Seconds())
	}

	if err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed after %v: %v", name, elapsed, err)
		return err
	}
	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, elapsed)
	return nil
}

// Stop gracefully stops all jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.running = false

	for name, timer := range s.timers {
		timer.Stop()
		log.Printf("⏹️  [SCHEDULER] Stopped job: %s", name)
	}
	s.timers = make(map[string]*time.Timer)

	s.mu.Unlock()

	// Cancel context and wait for running jobs
	s.cancel()
	s.wg.Wait()

	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}

// RunNow immediately runs a specific job (useful for admin endpoints and tests)
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		log.Printf("⚠️  [SCHEDULER] Job '%s' not found", name)
		return nil
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return s.execute(name, job)
}

// GetStatus returns the status of all jobs
func (s *Scheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus)
	for name, job := range s.jobs {
		st := JobStatus{
			Name:        name,
			NextRunTime: job.GetNextRunTime(),
			Registered:  true,
		}
		if rec, ok := s.lastRuns[name]; ok {
			st.LastRunTime = rec.at
			if rec.err != nil {
				st.LastError = rec.err.Error()
			}
		}
		status[name] = st
	}

	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Registered  bool      `json:"registered"`
}
