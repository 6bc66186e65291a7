package scanner

import (
	"context"
	"time"
)

// Stats is a point-in-time view of the scanner, safe to read from other
// goroutines.
type Stats struct {
	Running    bool
	World      string
	WorldSize  float64
	Period     string
	TS         string
	PassID     string
	FrameCount uint64
	CellsDone  int
	CellsTotal int
	Written    int
	CacheSize  int
	LastPass   *PassSummary
}

func (s *Scanner) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := s.stats
	if out.LastPass != nil {
		lp := *out.LastPass
		out.LastPass = &lp
	}
	return out
}

func (s *Scanner) publishStats() { s.publishStatsWith(nil) }

func (s *Scanner) publishStatsWith(last *PassSummary) {
	st := Stats{
		Running:    s.running,
		World:      s.world,
		WorldSize:  s.worldSize,
		Period:     s.period,
		TS:         s.ts,
		PassID:     s.passID,
		FrameCount: s.frame,
		Written:    s.written,
		CacheSize:  s.cache.Len(),
	}
	if s.cursor != nil {
		st.CellsDone = s.cursor.DoneCells()
		st.CellsTotal = s.cursor.TotalCells()
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if last != nil {
		lp := *last
		st.LastPass = &lp
	} else {
		st.LastPass = s.stats.LastPass
	}
	s.stats = st
}

// Run drives passes until ctx is cancelled or Close is called. The first
// pass is attempted after StartDelay, then every RepeatEvery; a declined
// start simply waits for the next repeat. While a pass runs, one batch is
// processed per TickInterval. A pass in flight when Run returns is aborted:
// its files are closed and no removals are inferred from the partial sweep.
func (s *Scanner) Run(ctx context.Context) {
	startTimer := time.NewTimer(s.cfg.StartDelay)
	defer startTimer.Stop()

	repeat := time.NewTicker(s.cfg.RepeatEvery)
	defer repeat.Stop()

	var batch *time.Ticker
	var batchC <-chan time.Time
	stopBatch := func() {
		if batch != nil {
			batch.Stop()
			batch = nil
			batchC = nil
		}
	}
	defer stopBatch()

	tryStart := func() {
		if !s.Start() {
			return
		}
		if batch == nil {
			batch = time.NewTicker(s.cfg.TickInterval)
			batchC = batch.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.stop:
			s.Stop()
			return
		case <-startTimer.C:
			tryStart()
		case <-repeat.C:
			tryStart()
		case <-batchC:
			s.ProcessBatch()
			if !s.running {
				stopBatch()
			}
		}
	}
}

// Close stops a running Run loop. Safe to call more than once.
func (s *Scanner) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
