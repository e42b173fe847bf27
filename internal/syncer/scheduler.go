package syncer

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
)

// Scheduler runs periodic sync cycles while the process is up, playing
// the role of the OS background scheduler.
type Scheduler struct {
	cfg     config.SyncConfig
	orch    *Orchestrator
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SyncConfig, orch *Orchestrator) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		orch: orch,
		cron: cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.SchedulerEnabled {
		logger.Log.Info("Sync scheduler is disabled")
		return
	}

	logger.Log.Info("Starting sync scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule sync job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped sync scheduler")
}

func (s *Scheduler) triggerSync() {
	state := s.orch.GetState()
	if state.Status == StatusSyncing {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}
	logger.Log.Info("Triggering scheduled sync")
	s.orch.Trigger()
}
