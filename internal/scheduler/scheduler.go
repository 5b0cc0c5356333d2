// Package scheduler implements the cron-driven event producer (spec.md
// §4.N), grounded on the teacher's internal/cron package's use of
// robfig/cron/v3 for wall-clock scheduling.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

const defaultSendTimeout = 5 * time.Second

// Job describes one scheduled turn: a cron expression, the persona prompt
// it should run under, and its tool-scope spec ("all" or a comma list of
// tool names).
type Job struct {
	Name      string
	Cron      string
	PromptRef string
	ToolScope string
}

// Scheduler pushes a TrustedEvent onto the bus for every cron tick of every
// configured Job.
type Scheduler struct {
	cron   *cron.Cron
	sender bus.Sender
	logger *slog.Logger
}

// New creates a Scheduler that pushes events through sender.
func New(sender bus.Sender, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		sender: sender,
		logger: logger,
	}
}

// Load registers jobs, returning an error if any cron expression is
// malformed.
func (s *Scheduler) Load(jobs []Job) error {
	for _, j := range jobs {
		job := j
		if _, err := s.cron.AddFunc(job.Cron, func() { s.fire(job) }); err != nil {
			return fmt.Errorf("scheduler: job %q: %w", job.Name, err)
		}
	}
	return nil
}

// Start begins dispatching ticks.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts dispatching and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) fire(j Job) {
	evt := types.IngressEvent{
		ID:      uuid.NewString(),
		Source:  "scheduler:" + j.Name,
		Payload: "EXECUTE_JOB: " + j.PromptRef,
		Trust:   types.TrustedEvent,
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()
	if err := s.sender.Send(ctx, evt); err != nil {
		s.logger.Error("scheduler: failed to push job event", "job", j.Name, "error", err)
	}
}
