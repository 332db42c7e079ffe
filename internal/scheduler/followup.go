package scheduler

import (
	"context"
	"time"

	"github.com/evalite/evalite/internal/logging"
)

// FollowUpSweepID names the follow-up delivery task.
const FollowUpSweepID = "followup-sweep"

// FollowUpSender delivers follow-ups that have come due.
type FollowUpSender interface {
	SendDueFollowUps(ctx context.Context, now time.Time) (int, error)
}

// FollowUpSweep returns a task that delivers due follow-ups every interval.
// It also runs at startup so reminders that fell due while the process was
// down go out promptly.
func FollowUpSweep(sender FollowUpSender, interval time.Duration) *Task {
	task := IntervalTask(FollowUpSweepID, "Deliver due follow-up reminders", interval,
		func(ctx context.Context, now time.Time) error {
			n, err := sender.SendDueFollowUps(ctx, now)
			if n > 0 {
				logging.Info("Follow-up sweep processed %d reminders", n)
			}
			return err
		})
	task.RunOnStart = true
	return task
}
