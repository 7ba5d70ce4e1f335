// Package watch runs the pipeline on media files dropped into a directory.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/kikitori/internal/media"
	"github.com/snarg/kikitori/internal/pipeline"
)

// PipelineRunner runs one transcription job.
type PipelineRunner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// Watcher monitors a drop directory for new media files and transcribes each
// one, writing the transcript next to the input with a .txt suffix.
type Watcher struct {
	runner   PipelineRunner
	watchDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesProcessed atomic.Int64
	filesFailed    atomic.Int64
	filesSkipped   atomic.Int64
}

// New creates a watcher for the given directory.
func New(runner PipelineRunner, watchDir string, log zerolog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		runner:         runner,
		watchDir:       watchDir,
		log:            log.With().Str("component", "watcher").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start initializes the fsnotify watcher and begins watching for new files.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.watchDir); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	w.log.Info().Str("watch_dir", w.watchDir).Msg("watcher started")
	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop closes the watcher and waits for in-flight jobs to finish. Files
// still inside their debounce window are abandoned.
func (w *Watcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.wg.Wait()
	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_failed", w.filesFailed.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("watcher stopped")
}

// Processed returns the number of files transcribed so far.
func (w *Watcher) Processed() int64 { return w.filesProcessed.Load() }

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			if !media.IsMediaFile(event.Name) {
				w.filesSkipped.Add(1)
				continue
			}
			w.scheduleProcess(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing by 500ms. This coalesces rapid
// Create+Write events and ensures the file is fully written before reading.
func (w *Watcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	// The pending job is accounted to wg here, not in the callback, so that
	// Stop can reap timers that never fire.
	w.wg.Add(1)
	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		defer w.wg.Done()

		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.processFile(path)
	})
}

func (w *Watcher) processFile(path string) {
	if w.ctx.Err() != nil {
		return
	}
	outPath := outputPath(path)
	log := w.log.With().Str("input", path).Logger()

	res, err := w.runner.Run(w.ctx, pipeline.Job{InputPath: path, OutputPath: outPath})
	if err != nil {
		w.filesFailed.Add(1)
		log.Warn().Err(err).Msg("watched file failed")
		return
	}
	w.filesProcessed.Add(1)
	log.Info().Str("output", outPath).Int("chunks", res.Chunks).Msg("watched file transcribed")
}

// outputPath maps meeting.mp3 to meeting.txt in the same directory.
func outputPath(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".txt"
}
