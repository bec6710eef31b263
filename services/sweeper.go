package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// PassiveConsentSweeper runs SweepPassiveConsent on a fixed interval until
// its context is cancelled.
type PassiveConsentSweeper struct {
	Manager  *ConsentManager
	Logger   *logrus.Logger
	Interval time.Duration
}

func NewPassiveConsentSweeper(manager *ConsentManager, logger *logrus.Logger, interval time.Duration) *PassiveConsentSweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &PassiveConsentSweeper{
		Manager:  manager,
		Logger:   logger,
		Interval: interval,
	}
}

func (s *PassiveConsentSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.Logger.WithField("interval", s.Interval.String()).Info("passive consent sweeper started")
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			s.Logger.Info("passive consent sweeper stopped")
			return
		case <-time.After(s.Interval):
		}
	}
}

func (s *PassiveConsentSweeper) sweepOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ids, err := s.Manager.SweepPassiveConsent(ctx)
	if err != nil {
		s.Logger.WithField("field", "PassiveConsentSweeper").Error("passive consent sweep failed: " + err.Error())
		return
	}
	if len(ids) > 0 {
		s.Logger.WithField("consent_ids", ids).Info("passive consent applied")
	}
}
