// Command embeddb is the standalone operator CLI for an embeddb database
// file: open it via a connection string, poke at records, force a
// checkpoint, or run it as a long-lived daemon with the debug WebSocket
// feed and the cron checkpoint sweep both live.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/embeddb/embeddb/internal/forensics"
	"github.com/embeddb/embeddb/internal/logging"
	"github.com/embeddb/embeddb/internal/maintenance"
	"github.com/embeddb/embeddb/internal/observe"
	"github.com/embeddb/embeddb/internal/pager"

	"github.com/embeddb/embeddb"
)

var CLI struct {
	Insert InsertCmd `cmd:"" help:"Insert a record and print its row id"`
	Fetch  FetchCmd  `cmd:"" help:"Fetch a record by row id"`
	Delete DeleteCmd `cmd:"" help:"Delete a record by row id"`

	Checkpoint CheckpointCmd `cmd:"" help:"Force a commit of any idle-open write transaction"`
	Serve      ServeCmd      `cmd:"" help:"Run the checkpoint scheduler and debug WebSocket feed"`
	Version    VersionCmd    `cmd:"" help:"Print version information"`
}

const version = "0.1.0"

// dsnFlag is embedded by every command that needs to open a database.
type dsnFlag struct {
	DSN string `arg:"" help:"Connection string, e.g. ./data.db?journal=true&cache_pages=2000"`
}

func (f dsnFlag) open() (*embeddb.DB, error) {
	return embeddb.Open(f.DSN)
}

type InsertCmd struct {
	dsnFlag
	Data string `arg:"" help:"Record payload (raw bytes, taken literally from the argument)"`
	Size int    `help:"Fixed record size for a brand-new store" default:"64"`
}

func (c *InsertCmd) Run() error {
	ctx := context.Background()
	db, err := c.open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close(ctx)

	rs, err := recordStoreFor(ctx, db, c.Size)
	if err != nil {
		return err
	}

	id, err := rs.Insert(ctx, []byte(c.Data))
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := rs.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	fmt.Printf("inserted row {page=%d slot=%d}\n", id.Page, id.Slot)
	return nil
}

type FetchCmd struct {
	dsnFlag
	Page uint32 `arg:"" help:"Page number of the row id"`
	Slot uint16 `arg:"" help:"Slot number of the row id"`
}

func (c *FetchCmd) Run() error {
	ctx := context.Background()
	db, err := c.open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close(ctx)

	rs, err := embeddb.OpenRecordStore(ctx, db)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}

	data, err := rs.Fetch(ctx, embeddb.RowID{Page: pagerNumber(c.Page), Slot: c.Slot})
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	fmt.Printf("%s\n", data)
	return nil
}

type DeleteCmd struct {
	dsnFlag
	Page uint32 `arg:"" help:"Page number of the row id"`
	Slot uint16 `arg:"" help:"Slot number of the row id"`
}

func (c *DeleteCmd) Run() error {
	ctx := context.Background()
	db, err := c.open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close(ctx)

	rs, err := embeddb.OpenRecordStore(ctx, db)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}

	if err := rs.Delete(ctx, embeddb.RowID{Page: pagerNumber(c.Page), Slot: c.Slot}); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return rs.Commit(ctx)
}

type CheckpointCmd struct {
	dsnFlag
}

func (c *CheckpointCmd) Run() error {
	ctx := context.Background()
	db, err := c.open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close(ctx)

	if err := db.Commit(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Printf("checkpointed, %d pages\n", db.PageCount())
	return nil
}

type ServeCmd struct {
	dsnFlag
	Addr         string   `help:"Address for the debug WebSocket feed" default:"127.0.0.1:9980"`
	Cron         string   `help:"Checkpoint schedule, seconds-first cron expression" default:"0 */5 * * * *"`
	AllowOrigin  []string `help:"Origins the debug feed accepts besides same-origin"`
	LogLevel     string   `help:"Log level for the daemon itself" default:"info"`
	ForensicsDir string   `help:"If set, archive every replayed/rolled-back journal as xz to this directory" type:"path"`
}

func (c *ServeCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(c.LogLevel)
	db, err := c.open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close(ctx)

	if c.ForensicsDir != "" {
		archiver, err := forensics.NewArchiver(c.ForensicsDir, logger)
		if err != nil {
			return fmt.Errorf("forensics: %w", err)
		}
		db.SetJournalArchiver(archiver)
	}

	hub := observe.NewHub(logger, c.AllowOrigin)
	go hub.Run(ctx)
	db.SetEventSink(hubEventSink{hub: hub})

	sched := maintenance.NewScheduler(db, hub, logger)
	if err := sched.Start(c.Cron); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/debug/events", hub)
	srv := &http.Server{Addr: c.Addr, Handler: mux}

	go func() {
		logger.Info("debug feed listening", zap.String("addr", c.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug feed stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = sched.Stop(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("embeddb version %s\n", version)
	return nil
}

func pagerNumber(n uint32) pager.PageNumber { return pager.PageNumber(n) }

// recordStoreFor opens the record store at db's page 1, creating a new
// one sized recordSize if the database is empty.
func recordStoreFor(ctx context.Context, db *embeddb.DB, recordSize int) (*embeddb.RecordStore, error) {
	if db.PageCount() == 0 {
		return embeddb.NewRecordStore(ctx, db, recordSize)
	}
	return embeddb.OpenRecordStore(ctx, db)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("embeddb"),
		kong.Description("Operator CLI for an embeddb pager-backed database file"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
