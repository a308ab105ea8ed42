package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/closeflow/closeflow/pkg/logger"
	"github.com/closeflow/closeflow/pkg/settlement"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron       *cron.Cron
	settlement *settlement.Service
	log        logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(settlementSvc *settlement.Service, log logger.Logger) *CronManager {
	return &CronManager{
		cron:       cron.New(),
		settlement: settlementSvc,
		log:        log,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	// Hourly: retry charges stuck PENDING (business finished onboarding
	// after the appointment verified) and flag payments stuck PROCESSING.
	_, err := cm.cron.AddFunc("0 * * * *", func() {
		cm.log.Info("running payment reconciliation")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := cm.settlement.ReconcilePending(ctx); err != nil {
			cm.log.Error("payment reconciliation failed", "error", err)
			return
		}
		cm.log.Info("payment reconciliation finished")
	})
	if err != nil {
		return err
	}

	return nil
}

// Start begins running scheduled jobs
func (cm *CronManager) Start() {
	cm.cron.Start()
	cm.log.Info("cron jobs started")
}

// Stop halts all scheduled jobs
func (cm *CronManager) Stop() {
	ctx := cm.cron.Stop()
	<-ctx.Done()
	cm.log.Info("cron jobs stopped")
}
