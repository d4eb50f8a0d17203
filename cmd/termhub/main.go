package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/user/termhub/internal/config"
	"github.com/user/termhub/internal/db"
	"github.com/user/termhub/internal/gateway"
	"github.com/user/termhub/internal/monitor"
	"github.com/user/termhub/internal/server"
	"github.com/user/termhub/internal/term"
	"github.com/user/termhub/internal/tunnel"
)

// recordingIndex adapts the sqlite repository to the manager's
// recording hooks, which run outside any request context.
type recordingIndex struct {
	repo *db.RecordingRepo
}

func (ri *recordingIndex) Started(meta term.RecordingMeta) error {
	return ri.repo.Insert(context.Background(), &db.Recording{
		ID:          meta.ID,
		SessionID:   meta.SessionID,
		SessionName: meta.SessionName,
		Path:        meta.Path,
		Width:       meta.Width,
		Height:      meta.Height,
		StartedAt:   meta.StartedAt,
	})
}

func (ri *recordingIndex) Finished(id string, duration float64) error {
	return ri.repo.Finish(context.Background(), id, duration)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		recordings *db.RecordingRepo
		recordDir  string
	)
	if cfg.Record {
		database, err := db.Open(ctx, filepath.Join(cfg.DataDir, "termhub.db"))
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		recordings = db.NewRecordingRepo(database.SQL())
		recordDir = filepath.Join(cfg.DataDir, "recordings")
	}

	var index term.RecordingIndex
	if recordings != nil {
		index = &recordingIndex{repo: recordings}
	}
	mgr := term.NewManager(term.Options{
		Shell:      cfg.Shell,
		Rows:       cfg.Rows,
		Cols:       cfg.Cols,
		RecordDir:  recordDir,
		Recordings: index,
	})
	defer mgr.CloseAll()

	mon := monitor.New(mgr, cfg.MonitorInterval)
	go mon.Run(ctx)

	tun := tunnel.New(cfg.Shell)
	defer tun.Close()

	h := gateway.New(mgr, mon, tun, recordings, gateway.Options{
		Token:          cfg.Token,
		StreamInterval: cfg.StreamInterval,
	})

	if cfg.PrintToken {
		fmt.Printf("\ntermhub running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	}

	srv := server.New(cfg, h)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
