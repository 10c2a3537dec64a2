package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubJob struct {
	next time.Time
	err  error
	runs int
}

func (j *stubJob) Run(_ context.Context) error { j.runs++; return j.err }
func (j *stubJob) GetNextRunTime() time.Time   { return j.next }

type recordedRun struct {
	job     string
	success bool
}

type stubOps struct {
	runs []recordedRun
}

func (o *stubOps) RecordJobRun(job string, success bool, _ float64) {
	o.runs = append(o.runs, recordedRun{job, success})
}

func TestRunNowRecordsOutcome(t *testing.T) {
	ops := &stubOps{}
	s := NewScheduler(ops)

	good := &stubJob{next: time.Now().Add(time.Hour)}
	bad := &stubJob{next: time.Now().Add(time.Hour), err: errors.New("storage offline")}
	s.Register("good", good)
	s.Register("bad", bad)

	if err := s.RunNow("good"); err != nil {
		t.Fatalf("Good job should succeed: %v", err)
	}
	if err := s.RunNow("bad"); err == nil {
		t.Fatal("Failing job should surface its error")
	}
	if good.runs != 1 || bad.runs != 1 {
		t.Errorf("Expected one run each, got good=%d bad=%d", good.runs, bad.runs)
	}

	if len(ops.runs) != 2 {
		t.Fatalf("Expected 2 recorded runs, got %d", len(ops.runs))
	}
	if ops.runs[0] != (recordedRun{"good", true}) {
		t.Errorf("First run recorded wrong: %+v", ops.runs[0])
	}
	if ops.runs[1] != (recordedRun{"bad", false}) {
		t.Errorf("Second run recorded wrong: %+v", ops.runs[1])
	}
}

func TestRunNowUnknownJob(t *testing.T) {
	s := NewScheduler(nil)
	if err := s.RunNow("missing"); err != nil {
		t.Errorf("Unknown job should be a logged no-op, got %v", err)
	}
}

func TestGetStatusTracksLastRun(t *testing.T) {
	s := NewScheduler(nil)
	flaky := &stubJob{next: time.Now().Add(time.Hour), err: errors.New("boom")}
	s.Register("flaky", flaky)

	before := s.GetStatus()["flaky"]
	if !before.LastRunTime.IsZero() || before.LastError != "" {
		t.Errorf("No run happened yet, got %+v", before)
	}
	if before.NextRunTime.IsZero() || !before.Registered {
		t.Errorf("Registered job should report a next run time, got %+v", before)
	}

	s.RunNow("flaky")

	after := s.GetStatus()["flaky"]
	if after.LastRunTime.IsZero() {
		t.Error("Last run time should be set after a run")
	}
	if after.LastError != "boom" {
		t.Errorf("Expected last error %q, got %q", "boom", after.LastError)
	}

	// A later success clears the error.
	flaky.err = nil
	s.RunNow("flaky")
	if got := s.GetStatus()["flaky"].LastError; got != "" {
		t.Errorf("Successful run should clear the last error, got %q", got)
	}
}
