// Package scanner runs telemetry passes over a host world.
//
// A pass sweeps the world grid a few cells per tick, writes an item record
// for every object whose state moved past the configured tolerances, and at
// the end emits removals and (on cadence frames) a full snapshot of the
// cache. All pass state is owned by one goroutine; see Run.
package scanner

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"splogs.io/internal/persistence/layout"
	persistlog "splogs.io/internal/persistence/log"
	"splogs.io/internal/protocol"
	"splogs.io/internal/sim/host"
	"splogs.io/internal/sim/tuning"
	"splogs.io/internal/telemetry/grid"
	"splogs.io/internal/telemetry/identity"
	"splogs.io/internal/telemetry/state"
)

type Config struct {
	Step       float64
	Radius     float64
	BatchCells int
	Tolerances state.Tolerances

	LogRemovals bool
	// SnapshotEveryN emits a full snapshot on frames where frame%N == 0.
	// Zero or negative disables snapshots.
	SnapshotEveryN int

	WorldSizeFor func(worldName string) float64

	StartDelay   time.Duration
	RepeatEvery  time.Duration
	TickInterval time.Duration
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		Step:           t.WorldStep,
		Radius:         t.QueryRadius,
		BatchCells:     t.BatchCells,
		Tolerances:     state.Tolerances{Move: t.MoveEps, HPPct: t.HPEpsPct},
		LogRemovals:    t.LogRemovals,
		SnapshotEveryN: t.FullSnapshotEveryN,
		WorldSizeFor:   t.WorldSizeFor,
		StartDelay:     t.StartDelay(),
		RepeatEvery:    t.RepeatEvery(),
		TickInterval:   t.TickInterval(),
	}
}

func (c *Config) applyDefaults() {
	if c.Step <= 0 {
		c.Step = 1600
	}
	if c.Radius <= 0 {
		c.Radius = 1200
	}
	if c.BatchCells <= 0 {
		c.BatchCells = 3
	}
	if c.WorldSizeFor == nil {
		c.WorldSizeFor = tuning.Defaults().WorldSizeFor
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	if c.RepeatEvery <= 0 {
		c.RepeatEvery = time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
}

// PassSummary describes one finished pass.
type PassSummary struct {
	PassID        string
	Frame         uint64
	World         string
	WorldSize     float64
	Period        string
	TS            string
	LogPath       string
	StartedAt     time.Time
	FinishedAt    time.Time
	Cells         int
	Written       int
	Removed       int
	SnapshotItems int
	Snapshot      bool
	CacheSize     int
	// LogLines counts every record appended to the period log this pass.
	LogLines uint64
}

// PassRecorder receives a summary after every pass. Implementations must
// not block.
type PassRecorder interface {
	RecordPass(PassSummary)
}

type Options struct {
	Logger   *log.Logger
	Now      func() time.Time
	Recorder PassRecorder
	// LogOptions are passed to the period log writer (record tee, rotation hook).
	LogOptions persistlog.LoggerOptions
}

type Scanner struct {
	host   host.Host
	cfg    Config
	layout layout.Layout
	log    *log.Logger
	now    func() time.Time
	rec    PassRecorder

	out   *persistlog.PeriodWriter
	cache *state.Cache
	index *state.IndexWriter
	seen  map[string]struct{}

	running   bool
	world     string
	worldSize float64
	ts        string
	period    string
	// cachePeriod is the period whose index has been folded into cache.
	cachePeriod string
	cursor      *grid.Cursor

	passID        string
	startedAt     time.Time
	written       int
	removed       int
	snapshotItems int
	frame         uint64

	statsMu sync.Mutex
	stats   Stats

	stop     chan struct{}
	stopOnce sync.Once
}

func New(h host.Host, cfg Config, lay layout.Layout, opts Options) *Scanner {
	cfg.applyDefaults()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		host:   h,
		cfg:    cfg,
		layout: lay,
		log:    opts.Logger,
		now:    now,
		rec:    opts.Recorder,
		out:    persistlog.NewPeriodWriter(opts.LogOptions),
		cache:  state.NewCache(),
		seen:   map[string]struct{}{},
		stop:   make(chan struct{}),
	}
}

func (s *Scanner) IsRunning() bool { return s.running }

// Start begins a pass. It declines when a pass is already running, when this
// process is not the world authority, or when the period log cannot be
// opened; in the last case nothing is changed and the next attempt starts
// from scratch.
func (s *Scanner) Start() bool {
	if s.running {
		return false
	}
	if s.host == nil || !s.host.IsAuthority() {
		return false
	}

	world := s.host.WorldName()
	if world == "" {
		world = "unknown"
	}
	now := s.now().UTC()
	period := layout.PeriodKey(now)

	if err := s.layout.EnsureDirs(); err != nil {
		s.printf("ensure dirs failed: %v", err)
		return false
	}
	logPath := s.layout.LogPath(period)
	if err := s.out.Begin(logPath); err != nil {
		s.printf("open failed: %s: %v", logPath, err)
		return false
	}

	s.world = world
	s.worldSize = s.cfg.WorldSizeFor(world)
	s.ts = protocol.FormatTimestamp(now)
	prevPeriod := s.period
	s.period = period

	indexPath := s.layout.IndexPath(period)
	if s.cachePeriod != period {
		rs, err := state.LoadIndexFile(indexPath, s.cache)
		if err != nil {
			s.printf("index load %s: %v", indexPath, err)
		} else if rs.Lines > 0 {
			s.printf("index load %s: lines=%d applied=%d removed=%d skipped=%d", indexPath, rs.Lines, rs.Applied, rs.Removed, rs.Skipped)
		}
		s.cachePeriod = period
	}
	idx, err := state.OpenIndexWriter(indexPath)
	if err != nil {
		s.printf("index open %s: %v (continuing without warm restart)", indexPath, err)
		idx = nil
	}
	s.index = idx
	if prevPeriod != "" && prevPeriod != period {
		s.seedIndex()
	}

	if s.cursor == nil || s.cursor.WorldSize() != s.worldSize {
		s.cursor = grid.NewCursor(s.worldSize, s.cfg.Step)
	}
	s.cursor.Reset()
	clear(s.seen)
	s.written = 0
	s.removed = 0
	s.snapshotItems = 0
	s.passID = uuid.NewString()
	s.startedAt = now
	s.running = true

	s.printf("start frame %s -> %s", s.ts, logPath)
	s.publishStats()
	return true
}

// seedIndex copies the whole in-memory cache into a freshly rotated period
// index so a restart later in the period does not re-report everything.
func (s *Scanner) seedIndex() {
	if s.index == nil {
		return
	}
	for _, id := range s.cache.IDs() {
		st, _ := s.cache.Get(id)
		if err := s.index.Append(id, st); err != nil {
			s.printf("index seed: %v", err)
			return
		}
	}
}

// ProcessBatch advances the pass by up to BatchCells cells and stops the
// pass once the sweep is complete.
func (s *Scanner) ProcessBatch() {
	if !s.running {
		return
	}
	for i := 0; i < s.cfg.BatchCells && s.running; i++ {
		s.processCell()
	}
	if s.cursor.Done() {
		s.finish()
		return
	}
	s.publishStats()
}

func (s *Scanner) processCell() {
	center, ok := s.cursor.Next()
	if !ok {
		return
	}
	for _, obj := range s.host.QueryNear(center, s.cfg.Radius) {
		if obj == nil || !obj.IsItem() {
			continue
		}
		id, ok := identity.Resolve(obj)
		if !ok {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}

		obs := state.Observe(obj)
		var prev *state.ObservedState
		if st, ok := s.cache.Get(id); ok {
			prev = &st
		}
		if !state.HasChanged(prev, obs.State, s.cfg.Tolerances) {
			continue
		}
		if err := s.out.Write(s.itemRecord(id, obs)); err != nil {
			s.printf("write item %s: %v", id, err)
			continue
		}
		s.written++
		s.cache.Put(id, obs.State)
		if err := s.index.Append(id, obs.State); err != nil {
			s.printf("index append %s: %v", id, err)
		}
	}
}

// Stop ends the running pass. A pass whose sweep is complete is finished
// (snapshot on cadence frames, removals for cached ids not seen); one that is
// cut short is aborted, which only closes the period files. Calling Stop
// while idle does nothing.
func (s *Scanner) Stop() {
	if !s.running {
		return
	}
	if s.cursor.Done() {
		s.finish()
		return
	}
	s.abort()
}

// abort closes an unfinished pass. Unswept cells were never observed: no
// removals, no snapshot, and the frame count is unchanged.
func (s *Scanner) abort() {
	s.running = false
	s.closeFiles()
	s.printf("frame %s aborted after %d/%d cells. items_written=%d", s.ts, s.cursor.DoneCells(), s.cursor.TotalCells(), s.written)
	s.publishStats()
}

func (s *Scanner) finish() {
	s.running = false

	snapshot := s.isSnapshotFrame()
	if snapshot {
		s.printf("frame %d: full snapshot", s.frame)
		for _, id := range s.cache.IDs() {
			st, _ := s.cache.Get(id)
			if err := s.out.Write(s.snapshotRecord(id, st)); err != nil {
				s.printf("write snapshot %s: %v", id, err)
				continue
			}
			s.snapshotItems++
		}
	}

	if s.cfg.LogRemovals {
		for _, id := range s.cache.IDs() {
			if _, ok := s.seen[id]; ok {
				continue
			}
			if err := s.out.Write(s.removeRecord(id)); err != nil {
				s.printf("write remove %s: %v", id, err)
				continue
			}
			s.cache.Delete(id)
			s.removed++
			if err := s.index.AppendRemoval(id); err != nil {
				s.printf("index removal %s: %v", id, err)
			}
		}
	}

	lines := s.out.Lines()
	logPath := s.closeFiles()

	sum := PassSummary{
		PassID:        s.passID,
		Frame:         s.frame,
		World:         s.world,
		WorldSize:     s.worldSize,
		Period:        s.period,
		TS:            s.ts,
		LogPath:       logPath,
		StartedAt:     s.startedAt,
		FinishedAt:    s.now().UTC(),
		Cells:         s.cursor.DoneCells(),
		Written:       s.written,
		Removed:       s.removed,
		SnapshotItems: s.snapshotItems,
		Snapshot:      snapshot,
		CacheSize:     s.cache.Len(),
		LogLines:      lines,
	}
	s.frame++

	s.printf("frame %s done. items_written=%d frame_count=%d", s.ts, s.written, s.frame)
	s.publishStatsWith(&sum)
	if s.rec != nil {
		s.rec.RecordPass(sum)
	}
}

// closeFiles closes the period index and log and returns the log path.
func (s *Scanner) closeFiles() string {
	if err := s.index.Close(); err != nil {
		s.printf("index close: %v", err)
	}
	s.index = nil
	logPath := s.out.Path()
	if err := s.out.End(); err != nil {
		s.printf("log close: %v", err)
	}
	return logPath
}

func (s *Scanner) isSnapshotFrame() bool {
	n := s.cfg.SnapshotEveryN
	if n <= 0 {
		return false
	}
	return s.frame%uint64(n) == 0
}

// FrameCount is the number of completed passes.
func (s *Scanner) FrameCount() uint64 { return s.frame }

func (s *Scanner) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
