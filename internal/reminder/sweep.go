// Package reminder implements the daily follow-up reminder sweep.
package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/surgicare/clinicflow/internal/domain/visit"
	"github.com/surgicare/clinicflow/pkg/workerpool"
)

// DueLister lists visits whose follow-up falls on a given day.
type DueLister interface {
	DueFollowUps(ctx context.Context, date time.Time) ([]*visit.Visit, error)
}

// Claimer claims a (visit, day) reminder. A false return means another
// run already sent it.
type Claimer interface {
	TryClaim(ctx context.Context, visitID string, remindDate time.Time) (bool, error)
}

// Sweep finds visits due for follow-up today and texts each patient once.
type Sweep struct {
	store  DueLister
	claims Claimer
	msgr   visit.Messenger
	logger *zap.Logger
	cfg    workerpool.Config
}

// NewSweep creates a sweep.
func NewSweep(store DueLister, claims Claimer, msgr visit.Messenger, logger *zap.Logger) *Sweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweep{
		store:  store,
		claims: claims,
		msgr:   msgr,
		logger: logger,
		cfg:    workerpool.DefaultConfig(),
	}
}

// Run sends reminders for every unclaimed follow-up due on the given day.
// Sends fan out through a worker pool; the claim happens before the send,
// so a crashed run can at worst drop a reminder, never duplicate one.
func (s *Sweep) Run(ctx context.Context, day time.Time) error {
	day = visit.DateOf(day)

	due, err := s.store.DueFollowUps(ctx, day)
	if err != nil {
		return fmt.Errorf("list due follow-ups: %w", err)
	}

	s.logger.Info("reminder sweep started",
		zap.Time("day", day),
		zap.Int("due", len(due)))

	if len(due) == 0 {
		return nil
	}

	pool, err := workerpool.New(s.cfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		v := task.Payload.(*visit.Visit)
		s.remind(ctx, v, day)
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}, s.logger)
	if err != nil {
		return err
	}
	pool.Start()

	for _, v := range due {
		if v.PatientMobile == "" {
			continue
		}
		if err := pool.Submit(&workerpool.Task{ID: v.ID, Payload: v, Context: ctx}); err != nil {
			s.logger.Warn("reminder submit failed",
				zap.String("visit_id", v.ID),
				zap.Error(err))
		}
	}

	pool.Stop()

	stats := pool.Stats()
	s.logger.Info("reminder sweep finished",
		zap.Int64("submitted", stats.TasksSubmitted),
		zap.Int64("completed", stats.TasksCompleted))
	return nil
}

func (s *Sweep) remind(ctx context.Context, v *visit.Visit, day time.Time) {
	claimed, err := s.claims.TryClaim(ctx, v.ID, day)
	if err != nil {
		s.logger.Error("reminder claim failed",
			zap.String("visit_id", v.ID),
			zap.Error(err))
		return
	}
	if !claimed {
		s.logger.Debug("reminder already sent", zap.String("visit_id", v.ID))
		return
	}

	s.msgr.FollowUpReminder(ctx, v.PatientName, v.PatientMobile, v.DoctorName)
}
