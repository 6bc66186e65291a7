package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"splogs.io/internal/persistence/layout"
	persistlog "splogs.io/internal/persistence/log"
	"splogs.io/internal/sim/catalogs"
	"splogs.io/internal/sim/simworld"
	"splogs.io/internal/sim/tuning"
	"splogs.io/internal/telemetry/scanner"
	"splogs.io/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldName  = flag.String("world", "chernarusplus", "world name reported in records")
		seed       = flag.Int64("seed", 1337, "simulated world seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		baseDir    = flag.String("base", "", "output base directory (default: tuning base_dir)")
		disableDB  = flag.Bool("disable_db", false, "disable the pass/period index")

		items      = flag.Int("items", 2000, "loose items spawned in the simulated world")
		players    = flag.Int("players", 24, "players spawned in the simulated world")
		containers = flag.Int("containers", 150, "containers spawned in the simulated world")
		driftMS    = flag.Int("drift_ms", 1000, "simulated world step interval in milliseconds (0 to freeze)")
		replica    = flag.Bool("replica", false, "run as a non-authority replica (never scans)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	scanLogger := log.New(os.Stdout, "[splogs] ", log.LstdFlags|log.Lmicroseconds)

	senv, err := loadServerEnv()
	if err != nil {
		logger.Fatalf("%v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if b := strings.TrimSpace(*baseDir); b != "" {
		tune.BaseDir = b
	}
	lay := layout.Layout{BaseDir: tune.BaseDir}
	if err := lay.EnsureDirs(); err != nil {
		logger.Fatalf("create base dir: %v", err)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	// Optional read-model index (the .ljson logs remain the source of truth).
	idx, err := openRuntimeIndex(lay, *worldName, *disableDB, senv, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	r2Mirror, err := buildR2MirrorRuntime(lay.BaseDir, senv, logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}
	defer r2Mirror.Close()

	var archiver *periodArchiver
	if senv.ArchiveClosed {
		archiver = newPeriodArchiver(lay, idx, r2Mirror, senv.ArchiveRemoveSource, logger)
		defer archiver.Close()
		if n := archiver.SweepClosed(layout.PeriodKey(time.Now())); n > 0 {
			logger.Printf("queued %d closed period(s) for archiving", n)
		}
	}

	w := simworld.New(simworld.Config{
		Name:       *worldName,
		Size:       tune.WorldSizeFor(*worldName),
		Seed:       *seed,
		Items:      *items,
		Players:    *players,
		Containers: *containers,
		Authority:  !*replica,
		Catalog:    cats,
	})
	counts := w.Counts()
	logger.Printf("world %s size=%.0f items=%d containers=%d players=%d", w.WorldName(), w.Size(),
		counts[simworld.KindItem], counts[simworld.KindContainer], counts[simworld.KindPlayer])

	hub := observer.NewHub(2048, 512)
	logOpts := persistlog.LoggerOptions{OnRecord: hub.Publish}
	if archiver != nil {
		logOpts.OnRotate = archiver.OnRotate
	}
	sc := scanner.New(w, scanner.ConfigFromTuning(tune), lay, scanner.Options{
		Logger:     scanLogger,
		Recorder:   passRecorder{idx: idx},
		LogOptions: logOpts,
	})

	ctx, cancel := signalContext()
	defer cancel()

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		sc.Run(ctx)
	}()
	// The scanner must be idle before the index and archiver close.
	defer func() {
		sc.Close()
		<-scanDone
	}()

	if *driftMS > 0 {
		go runDrift(ctx, w, time.Duration(*driftMS)*time.Millisecond)
	}

	rt := &serverRuntime{
		scanner:  sc,
		world:    w,
		idx:      idx,
		mirror:   r2Mirror,
		archiver: archiver,
		hub:      hub,
		env:      senv,
		log:      logger,
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s base=%s", *addr, lay.BaseDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
}

func runDrift(ctx context.Context, w *simworld.World, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step()
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
