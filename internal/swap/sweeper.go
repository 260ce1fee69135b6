package swap

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper expires overdue swap requests on an hourly schedule. Transitions
// use the same pending-only compare-and-set as the API paths, so a sweep
// racing a user action cannot double-resolve a request.
type Sweeper struct {
	service *Service
	logger  *slog.Logger
	cron    *cron.Cron
}

func NewSweeper(service *Service, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service: service,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start runs one sweep immediately, then hourly until Stop.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.sweep); err != nil {
		return err
	}
	s.sweep()
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	n, err := s.service.SweepExpired()
	if err != nil {
		s.logger.Error("swap expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired swap requests", "count", n)
	}
}
