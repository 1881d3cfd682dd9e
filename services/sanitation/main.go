package sanitation

import (
	"context"
	"sync"
	"time"

	"cohortkit/models"
	"cohortkit/repositories/batches"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

type (
	SanitationService struct {
		Initialized bool
		Store       batches.Store
		Retention   time.Duration
		Log         logrus.FieldLogger

		scheduler *gocron.Scheduler
		mux       sync.Mutex
	}
)

func NewSanitationService(store batches.Store, cfg *models.Config, log logrus.FieldLogger) *SanitationService {
	return &SanitationService{
		Store:     store,
		Retention: time.Duration(cfg.Server.RetentionHours) * time.Hour,
		Log:       log,
	}
}

func (ss *SanitationService) Init() error {
	ss.mux.Lock()
	defer ss.mux.Unlock()

	// initialization if necessary
	if ss.Initialized {
		return nil
	}

	// - periodically remove finished batches that have
	//   outlived the retention window
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(1).Hour().Do(func() {
		if _, err := ss.Prune(context.Background(), time.Now()); err != nil {
			ss.Log.Errorf("batch cleanup failed: %s", err)
		}
	})
	if err != nil {
		return err
	}
	s.StartAsync()

	ss.scheduler = s
	ss.Initialized = true
	ss.Log.Info("sanitation service initialized")
	return nil
}

func (ss *SanitationService) Stop() {
	ss.mux.Lock()
	defer ss.mux.Unlock()
	if ss.scheduler != nil {
		ss.scheduler.Stop()
		ss.scheduler = nil
	}
	ss.Initialized = false
}

// Prune deletes terminal batches last updated before now minus the retention window
func (ss *SanitationService) Prune(ctx context.Context, now time.Time) (int, error) {
	if ss.Retention <= 0 {
		return 0, nil
	}

	cutoff := now.Add(-ss.Retention)
	deleted, err := ss.Store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		ss.Log.Infof("removed %d batches finished before %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
