package services

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/clock"
	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

// BatchScheduler drives the periodic scans: auction closing, due renewals and
// upcoming-renewal reminders. Every run is gated on leader election so extra
// worker replicas stay idle; the per-bid processed flag still guards against
// the window where leadership changes hands mid-run.
type BatchScheduler struct {
	cron       *cron.Cron
	closer     *AuctionCloser
	engine     *SubscriptionEngine
	leader     domain.LeaderElection
	clk        clock.Clock
	instanceID string
	log        logger.Logger

	closeSpec    string
	renewalSpec  string
	reminderSpec string
}

func NewBatchScheduler(
	closer *AuctionCloser,
	engine *SubscriptionEngine,
	leader domain.LeaderElection,
	clk clock.Clock,
	instanceID string,
	closeSpec, renewalSpec, reminderSpec string,
	log logger.Logger,
) *BatchScheduler {
	return &BatchScheduler{
		cron:         cron.New(),
		closer:       closer,
		engine:       engine,
		leader:       leader,
		clk:          clk,
		instanceID:   instanceID,
		log:          log,
		closeSpec:    closeSpec,
		renewalSpec:  renewalSpec,
		reminderSpec: reminderSpec,
	}
}

func (s *BatchScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting batch scheduler",
		"instance_id", s.instanceID,
		"close_spec", s.closeSpec,
		"renewal_spec", s.renewalSpec,
		"reminder_spec", s.reminderSpec)

	if _, err := s.leader.BecomeLeader(ctx, s.instanceID); err != nil {
		s.log.Error("Leader election failed at startup", "error", err)
	}

	if _, err := s.cron.AddFunc(s.closeSpec, func() {
		s.runAuctionClose(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.renewalSpec, func() {
		s.runDueRenewals(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.reminderSpec, func() {
		s.runUpcomingReminders(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *BatchScheduler) Stop() error {
	s.log.Info("Stopping batch scheduler")
	<-s.cron.Stop().Done()
	return s.leader.ReleaseLeadership(context.Background(), s.instanceID)
}

func (s *BatchScheduler) runAuctionClose(ctx context.Context) {
	if !s.ensureLeader(ctx) {
		return
	}
	report, err := s.closer.ProcessEndedAuctions(ctx, s.clk.Now())
	if err != nil {
		s.log.Error("Auction close scan failed", "error", err)
		return
	}
	if report.ProcessedCount > 0 {
		s.log.Info("Auction close scan report", "run_id", report.RunID, "processed", report.ProcessedCount)
	}
}

func (s *BatchScheduler) runDueRenewals(ctx context.Context) {
	if !s.ensureLeader(ctx) {
		return
	}
	report, err := s.engine.ProcessDueRenewals(ctx, s.clk.Now())
	if err != nil {
		s.log.Error("Renewal run failed", "error", err)
		return
	}
	if report.Total > 0 {
		s.log.Info("Renewal run report",
			"run_id", report.RunID,
			"total", report.Total,
			"successful", report.Successful,
			"failed", report.Failed)
	}
}

func (s *BatchScheduler) runUpcomingReminders(ctx context.Context) {
	if !s.ensureLeader(ctx) {
		return
	}
	if _, err := s.engine.CheckUpcomingRenewals(ctx, s.clk.Now()); err != nil {
		s.log.Error("Upcoming-renewal check failed", "error", err)
	}
}

func (s *BatchScheduler) ensureLeader(ctx context.Context) bool {
	isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Leader check failed", "error", err)
		return false
	}
	if isLeader {
		return true
	}
	// Try to take over an expired leadership before standing down.
	became, err := s.leader.BecomeLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Leader election failed", "error", err)
		return false
	}
	return became
}
