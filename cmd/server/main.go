package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hophop.gg/internal/config"
	"hophop.gg/internal/logs"
	"hophop.gg/internal/persistence/buildsave"
	persistlog "hophop.gg/internal/persistence/log"
	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/builds"
	"hophop.gg/internal/sim/catalogs"
	"hophop.gg/internal/sim/world"
	"hophop.gg/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config (yaml)")
		envFile    = flag.String("env", ".env", "optional dotenv file loaded before the config")
		snapPath   = flag.String("snapshot", "", "world snapshot to load (overrides world.restore_snapshot)")
	)
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger := logs.New("server", cfg.Log)
	defer func() { _ = logger.Sync() }()
	if path == "" {
		logger.Warn("config file not found, using defaults", zap.String("path", *configPath))
	}

	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		logger.Fatal("load catalogs", zap.Error(err))
	}

	worldDir := filepath.Join(cfg.DataDir, "worlds", cfg.World.ID)
	_ = os.MkdirAll(worldDir, 0o755)

	idx, reader, err := openRuntimeIndex(cfg.Index)
	if err != nil {
		logger.Fatal("open index backend", zap.Error(err))
	}
	if idx != nil {
		defer idx.Close()
		defer reader.Close()
		if err := idx.UpsertCatalogs(cfg.ConfigDir, cats); err != nil {
			logger.Warn("index catalogs", zap.Error(err))
		}
	}

	w, err := world.New(world.WorldConfig{
		ID:                 cfg.World.ID,
		TickRateHz:         cfg.World.TickRateHz,
		SnapshotEveryTicks: cfg.World.SnapshotEveryTicks,
		JobQueue:           cfg.World.JobQueue,
	}, cats)
	if err != nil {
		logger.Fatal("world", zap.Error(err))
	}
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && cfg.World.RestoreSnapshot {
		snapshotToLoad = latestSnapshot(worldDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatal("read snapshot", zap.String("path", snapshotToLoad), zap.Error(err))
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatal("import snapshot", zap.Error(err))
		}
		logger.Info("resumed from snapshot",
			zap.String("snapshot", filepath.Base(snapshotToLoad)),
			zap.Uint64("tick", w.CurrentTick()),
			zap.Int("entities", len(snap.Entities)))
	}

	store := buildsave.NewStore(cfg.Saves.Dir, buildsave.StoreOptions{HistoryKeep: cfg.Saves.HistoryKeep})
	eng := builds.NewEngine(w, store, logger, builds.Options{
		ProgressEvery:          cfg.Builds.ProgressEvery,
		InventoryAttemptFactor: cfg.Builds.InventoryAttemptFactor,
	})

	opLog := persistlog.NewOpLogger(worldDir, func(err error) {
		logger.Warn("op log write", zap.Error(err))
	})
	defer opLog.Close()
	if idx != nil {
		eng.SetJournal(builds.Journals(opLog, idx))
	} else {
		eng.SetJournal(opLog)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.WorldV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Error("snapshot write", zap.Error(err))
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("world stopped", zap.Error(err))
		}
	}()

	wsSrv := ws.NewServer(w, eng, logger, ws.Options{Token: cfg.Auth.WSToken})
	router := newRouter(&app{
		cfg:    cfg,
		world:  w,
		eng:    eng,
		disp:   builds.NewDispatcher(eng),
		idx:    idx,
		reader: reader,
		log:    logger.Named("http"),
	}, wsSrv.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", cfg.Listen),
		zap.String("world", cfg.World.ID),
		zap.String("saves", store.Dir()),
		zap.String("index", cfg.Index.Backend))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe", zap.Error(err))
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

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
