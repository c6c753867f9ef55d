package rooms

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

const DefaultRefreshSchedule = "@every 30s"

// Refresher re-fetches the room snapshot on a cron schedule. Failures are logged only, the next run retries.
type Refresher struct {
	runner *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger hclog.Logger
}

func NewRefresher(r *Reconciler, schedule string) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Refresher{
		runner: cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
		logger: r.logger.Named("refresh"),
	}
	_, err := f.runner.AddFunc(schedule, func() {
		if err := r.FetchSnapshot(f.ctx); err != nil {
			f.logger.Debug("scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return f, nil
}

func (f *Refresher) Start() {
	f.runner.Start()
}

// Stop cancels a running refresh and waits for it to return.
func (f *Refresher) Stop() {
	f.cancel()
	<-f.runner.Stop().Done()
}
