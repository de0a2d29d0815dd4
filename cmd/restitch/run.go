package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/restitch/restitch/internal/bufpool"
	"github.com/restitch/restitch/internal/config"
	"github.com/restitch/restitch/internal/diskio"
	"github.com/restitch/restitch/internal/events"
	"github.com/restitch/restitch/internal/history"
	"github.com/restitch/restitch/internal/integrity"
	"github.com/restitch/restitch/internal/logging"
	"github.com/restitch/restitch/internal/progress"
	"github.com/restitch/restitch/internal/reassembly"
	"github.com/restitch/restitch/internal/resume"
	"github.com/restitch/restitch/pkg/manifest"
)

const (
	backpressureRetryDelay = 20 * time.Millisecond
	corruptRetryLimit      = 3
	journalFlushInterval   = time.Second
)

func runStitch(args []string) error {
	fs := flag.NewFlagSet("stitch", flag.ExitOnError)
	cfg, err := config.ParseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New("restitch", cfg.LogLevel)

	hash, err := integrity.ParseAlgorithm(cfg.Hash)
	if err != nil {
		return err
	}

	man, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}

	transferID := cfg.TransferID
	if transferID == "" {
		if man.Checksum != "" {
			transferID = man.Checksum
		} else {
			transferID = uuid.NewString()
		}
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(cfg.OutPath)
	}
	destPath := filepath.Join(workDir, filepath.Base(cfg.OutPath)+".part")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := diskio.NewFileWriter()
	defer writer.CloseAll()

	m := reassembly.NewManager(reassembly.Config{
		Writer:    writer,
		Finalizer: diskio.NewFinalizer(writer, hash),
		Hash:      hash,
		Logger:    logger,
		Limits: reassembly.Limits{
			MaxConcurrentWrites: cfg.MaxWrites,
			MaxQueueLength:      cfg.MaxQueue,
		},
	})
	if err := m.Init(transferID, man, destPath, nil); err != nil {
		return err
	}
	if err := writer.Preallocate(destPath, man.PayloadBytes()); err != nil {
		return err
	}

	journal, err := resume.LoadOrCreate(resume.JournalPath(destPath), transferID, man.FileSize, len(man.Chunks))
	if err != nil {
		return err
	}
	if cfg.Resume {
		for _, index := range journal.Completed() {
			if err := m.MarkChunkReceived(transferID, index); err != nil {
				return err
			}
		}
		if done := len(journal.Completed()); done > 0 {
			logger.Info("resuming transfer",
				slog.String("transfer_id", transferID),
				slog.Int("chunks_on_disk", done))
		}
	}

	// The journal trails the engine: every received chunk is recorded
	// and flushed periodically, so a crash costs at most one interval.
	removeJournalSub := m.Events().Subscribe(journalRecorder(journal, transferID))
	defer removeJournalSub()
	go flushLoop(ctx, journal, logger)

	meter := progress.NewMeter()
	meter.Start(man.FileSize)
	detachMeter := meter.Attach(m.Events(), transferID)
	defer detachMeter()
	go statusLoop(ctx, meter)

	start := time.Now()
	err = feedChunks(ctx, m, transferID, man, cfg)
	if err == nil {
		err = m.Finalize(ctx, transferID, cfg.OutPath)
	}
	_ = journal.Flush()

	if recErr := recordOutcome(cfg, m, transferID, man, start, err); recErr != nil {
		logger.Warn("history record failed", slog.String("error", recErr.Error()))
	}

	if err != nil {
		return err
	}
	_ = journal.Remove()
	fmt.Fprintf(os.Stderr, "\ndone: %s in %s\n", cfg.OutPath, time.Since(start).Round(time.Millisecond))
	logger.Info("transfer complete",
		slog.String("transfer_id", transferID),
		slog.String("out", cfg.OutPath),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// feedChunks reads chunk payload files and pushes them through the
// engine with a bounded worker pool. Backpressure pauses the worker;
// corrupt payloads are re-read a few times before giving up.
func feedChunks(ctx context.Context, m *reassembly.Manager, transferID string, man manifest.Manifest, cfg config.Config) error {
	snap, ok := m.GetState(transferID)
	if !ok {
		return reassembly.ErrNoSuchTransfer
	}
	pending := make([]int, 0, len(man.Chunks))
	onDisk := make(map[int]struct{}, len(snap.Received))
	for _, index := range snap.Received {
		onDisk[index] = struct{}{}
	}
	largest := 0
	for _, c := range man.Chunks {
		if _, done := onDisk[c.Index]; !done {
			pending = append(pending, c.Index)
		}
		if int(c.EncryptedSize) > largest {
			largest = int(c.EncryptedSize)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if largest == 0 {
		largest = 1
	}
	pool := bufpool.New(largest)

	// A failed worker cancels the feed context so the producer below can
	// never block on a channel with no live receiver.
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	indices := make(chan int)
	var (
		errOnce  sync.Once
		firstErr error
	)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indices {
				if err := feedOne(feedCtx, m, transferID, man, cfg.ChunkDir, pool, index); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancelFeed()
					})
					return
				}
			}
		}()
	}

	for _, index := range pending {
		select {
		case indices <- index:
			continue
		case <-feedCtx.Done():
		}
		break
	}
	close(indices)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func feedOne(ctx context.Context, m *reassembly.Manager, transferID string, man manifest.Manifest, chunkDir string, pool *bufpool.Pool, index int) error {
	for attempt := 0; attempt < corruptRetryLimit; attempt++ {
		data, err := readChunkFile(chunkDir, index, int(man.Chunks[index].EncryptedSize), pool)
		if err != nil {
			return err
		}
		ok, err := m.AcceptChunk(ctx, transferID, index, data)
		switch {
		case err == nil && ok:
			pool.Put(data)
			return nil
		case err == nil:
			// Integrity rejection. Re-reading helps only for transient
			// local read corruption, but it is cheap to try.
			pool.Put(data)
			continue
		case errors.Is(err, reassembly.ErrBackpressure):
			pool.Put(data)
			select {
			case <-time.After(backpressureRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			attempt--
			continue
		default:
			// The buffer may still back an in-flight write; let the GC
			// reclaim it rather than recycling it.
			return err
		}
	}
	return fmt.Errorf("chunk %d: rejected by integrity check after %d attempts", index, corruptRetryLimit)
}

func readChunkFile(chunkDir string, index, size int, pool *bufpool.Pool) ([]byte, error) {
	path := chunkPath(chunkDir, index)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", index, err)
	}
	defer f.Close()

	buf := pool.Get(size)
	if _, err := io.ReadFull(f, buf); err != nil {
		pool.Put(buf)
		return nil, fmt.Errorf("chunk %d: read %s: %w", index, path, err)
	}
	return buf, nil
}

func chunkPath(chunkDir string, index int) string {
	return filepath.Join(chunkDir, fmt.Sprintf("%06d.chunk", index))
}

func journalRecorder(journal *resume.Journal, transferID string) events.Funcs {
	return events.Funcs{
		ChunkState: func(ev events.ChunkState) {
			if ev.TransferID != transferID || ev.State != "received" {
				return
			}
			journal.MarkCompleted(ev.Index)
		},
	}
}

func flushLoop(ctx context.Context, journal *resume.Journal, logger *slog.Logger) {
	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := journal.Flush(); err != nil {
				logger.Warn("journal flush failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func statusLoop(ctx context.Context, meter *progress.Meter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(os.Stderr, "\r%s", meter.Snapshot())
		case <-ctx.Done():
			return
		}
	}
}

func recordOutcome(cfg config.Config, m *reassembly.Manager, transferID string, man manifest.Manifest, start time.Time, runErr error) error {
	if cfg.HistoryDB == "" {
		return nil
	}
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := history.TransferRecord{
		TransferID: transferID,
		FinalPath:  cfg.OutPath,
		FileSize:   man.FileSize,
		ChunkCount: len(man.Chunks),
		Checksum:   man.Checksum,
		Status:     history.StatusCompleted,
		StartedAt:  start.UnixMilli(),
		FinishedAt: time.Now().UnixMilli(),
	}
	if snap, ok := m.GetState(transferID); ok {
		rec.BytesReceived = snap.BytesReceived
	} else if runErr == nil {
		// Finalize removes the transfer on success.
		rec.BytesReceived = man.PayloadBytes()
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		rec.Status = history.StatusCanceled
		rec.Error = runErr.Error()
	default:
		rec.Status = history.StatusFailed
		rec.Error = runErr.Error()
	}
	return store.RecordTransfer(rec)
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("history-db", "", "transfer history database")
	limit := fs.Int("limit", 20, "number of records to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("history database path is required")
	}

	store, err := history.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(*limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no transfers recorded")
		return nil
	}
	for _, rec := range records {
		when := time.UnixMilli(rec.FinishedAt).Format(time.RFC3339)
		line := fmt.Sprintf("%s  %-9s  %s (%d bytes)", when, rec.Status, rec.FinalPath, rec.FileSize)
		if rec.Error != "" {
			line += "  " + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}
