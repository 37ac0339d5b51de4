package ledger

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// Sweeper periodically retires confirmed entries against the latest
// authoritative sessions and expires entries past their backstop age.
// The source callback supplies the current authoritative sessions; the
// changed callback fires after any sweep that removed entries.
type Sweeper struct {
	ledger  *Ledger
	source  func() []types.Session
	changed func()
	cron    *cron.Cron
}

func NewSweeper(l *Ledger, source func() []types.Session, changed func()) *Sweeper {
	return &Sweeper{
		ledger:  l,
		source:  source,
		changed: changed,
		cron:    cron.New(),
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", SweepInterval)
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return fmt.Errorf("schedule ledger sweep: %w", err)
	}
	s.cron.Start()
	slog.Debug("ledger sweeper started", "interval", SweepInterval)
	return nil
}

// Stop halts the schedule; an in-flight sweep finishes first.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one retire-and-expire pass. Also invoked directly when a
// fresh snapshot arrives, so confirmations retire without waiting a tick.
func (s *Sweeper) Sweep() {
	retired := s.ledger.Retire(s.source())
	expired := s.ledger.Expire()
	if retired+expired > 0 {
		slog.Debug("ledger sweep", "retired", retired, "expired", expired, "pending", s.ledger.Len())
		if s.changed != nil {
			s.changed()
		}
	}
}
