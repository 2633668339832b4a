// Package pipeline runs uploaded records through transcription,
// analysis, and embedding.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/analyze"
	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/history"
	"github.com/HalSarj/JaaS/internal/metrics"
	"github.com/HalSarj/JaaS/internal/storage"
	"github.com/HalSarj/JaaS/internal/transcribe"
)

const (
	defaultQueueSize = 256
	jobTimeout       = 10 * time.Minute
)

// Store is the record persistence surface the pipeline needs.
type Store interface {
	GetRecord(ctx context.Context, id string) (*database.Record, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	SetRecordStatus(ctx context.Context, id, status string) error
	SetTranscript(ctx context.Context, id, transcript string) error
	CompleteRecord(ctx context.Context, id string, analysis json.RawMessage, embedding []float32) error
	FailRecord(ctx context.Context, id, detail string) error
}

// Analyzer produces a structured analysis for a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, journalContext string) (*analyze.Analysis, json.RawMessage, error)
}

// Embedder produces a vector for a transcript.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ContextBuilder selects prior entries and motifs for the analysis prompt.
type ContextBuilder interface {
	Select(ctx context.Context, userID, transcript string) ([]history.Entry, []database.MotifCounter, error)
}

// MotifRecorder folds a completed analysis into the motif counters.
type MotifRecorder interface {
	Record(ctx context.Context, userID string, a *analyze.Analysis)
}

// Options configures a Pipeline.
type Options struct {
	Store       Store
	Blobs       storage.BlobStore
	STT         transcribe.Provider
	Analyzer    Analyzer
	Embedder    Embedder // nil disables the embedding stage
	Context     ContextBuilder
	Motifs      MotifRecorder
	Workers     int
	QueueSize   int
	MaxAttempts int
	Logger      zerolog.Logger
}

// Pipeline is a fixed-size worker pool pulling record ids off a queue.
type Pipeline struct {
	store       Store
	blobs       storage.BlobStore
	stt         transcribe.Provider
	analyzer    Analyzer
	embedder    Embedder
	contexts    ContextBuilder
	motifs      MotifRecorder
	workers     int
	maxAttempts int
	log         zerolog.Logger

	jobs      chan string
	wg        sync.WaitGroup
	completed atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func New(opts Options) *Pipeline {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	return &Pipeline{
		store:       opts.Store,
		blobs:       opts.Blobs,
		stt:         opts.STT,
		analyzer:    opts.Analyzer,
		embedder:    opts.Embedder,
		contexts:    opts.Context,
		motifs:      opts.Motifs,
		workers:     workers,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger.With().Str("component", "pipeline").Logger(),
		jobs:        make(chan string, queueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// the queue is closed by Stop.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Msg("pipeline started")
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pipeline) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("pipeline stopped")
}

// Enqueue submits a record for processing. Returns false when the queue
// is full; the caller decides whether that matters.
func (p *Pipeline) Enqueue(recordID string) bool {
	select {
	case p.jobs <- recordID:
		return true
	default:
		return false
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Queued:    len(p.jobs),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case recordID, ok := <-p.jobs:
			if !ok {
				return
			}
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			if err := p.Process(jobCtx, recordID); err != nil {
				log.Error().Err(err).Str("record_id", recordID).Msg("record processing failed")
			}
			cancel()
		}
	}
}

// Process runs one record through every remaining stage. It is safe to
// call for records in any status: completed records are a no-op, and a
// record out of attempts is marked failed without touching any external
// service.
func (p *Pipeline) Process(ctx context.Context, recordID string) error {
	rec, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	if rec.Status == database.StatusComplete {
		metrics.PipelineRecordsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if rec.Attempts >= p.maxAttempts {
		metrics.PipelineRecordsTotal.WithLabelValues("failed").Inc()
		p.failed.Add(1)
		return p.store.FailRecord(ctx, rec.ID,
			fmt.Sprintf("attempt limit reached (%d)", rec.Attempts))
	}

	// Consume the attempt up front so a crash mid-stage still counts.
	attempt, err := p.store.IncrementAttempts(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	log := p.log.With().Str("record_id", rec.ID).Int("attempt", attempt).Logger()

	transcript := ""
	if rec.Transcript != nil {
		transcript = *rec.Transcript
	}
	if transcript == "" {
		transcript, err = p.runTranscribe(ctx, rec)
		if err != nil {
			return p.fail(ctx, rec.ID, "transcribe", err)
		}
		log.Info().Int("chars", len(transcript)).Msg("transcription complete")
	} else if err := p.store.SetRecordStatus(ctx, rec.ID, database.StatusAnalyzing); err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	journalContext := ""
	if rec.UserID != nil {
		entries, counters, selErr := p.contexts.Select(ctx, *rec.UserID, transcript)
		if selErr != nil {
			// Analysis without prior context is degraded, not broken.
			log.Warn().Err(selErr).Msg("context selection failed, analyzing without history")
		} else {
			journalContext = history.FormatContext(entries, counters)
		}
	}

	analysis, raw, err := p.runAnalyze(ctx, transcript, journalContext)
	if err != nil {
		if errors.Is(err, analyze.ErrContract) {
			log.Warn().Err(err).Msg("model response violated the analysis contract")
		}
		return p.fail(ctx, rec.ID, "analyze", err)
	}

	embedding := p.runEmbed(ctx, transcript, log)

	if err := p.store.CompleteRecord(ctx, rec.ID, raw, embedding); err != nil {
		return p.fail(ctx, rec.ID, "persist", err)
	}

	if rec.UserID != nil {
		p.motifs.Record(ctx, *rec.UserID, analysis)
	}

	metrics.PipelineRecordsTotal.WithLabelValues("complete").Inc()
	p.completed.Add(1)
	log.Info().Msg("record complete")
	return nil
}

func (p *Pipeline) runTranscribe(ctx context.Context, rec *database.Record) (string, error) {
	if err := p.store.SetRecordStatus(ctx, rec.ID, database.StatusTranscribing); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}

	rd, err := p.blobs.Open(ctx, rec.BlobKey)
	if err != nil {
		return "", fmt.Errorf("open blob %s: %w", rec.BlobKey, err)
	}
	audio, err := io.ReadAll(rd)
	rd.Close()
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", rec.BlobKey, err)
	}

	start := time.Now()
	resp, err := p.stt.Transcribe(ctx, path.Base(rec.BlobKey), audio, transcribe.TranscribeOpts{})
	metrics.PipelineStageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("empty transcript")
	}

	if err := p.store.SetTranscript(ctx, rec.ID, text); err != nil {
		return "", fmt.Errorf("store transcript: %w", err)
	}
	return text, nil
}

func (p *Pipeline) runAnalyze(ctx context.Context, transcript, journalContext string) (*analyze.Analysis, json.RawMessage, error) {
	start := time.Now()
	analysis, raw, err := p.analyzer.Analyze(ctx, transcript, journalContext)
	metrics.PipelineStageDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	return analysis, raw, err
}

// runEmbed never fails the record. A missing vector degrades future
// similarity search, nothing else.
func (p *Pipeline) runEmbed(ctx context.Context, transcript string, log zerolog.Logger) []float32 {
	if p.embedder == nil {
		return nil
	}
	start := time.Now()
	vec, err := p.embedder.Embed(ctx, transcript)
	metrics.PipelineStageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn().Err(err).Msg("embedding failed, completing without vector")
		return nil
	}
	return vec
}

func (p *Pipeline) fail(ctx context.Context, recordID, stage string, cause error) error {
	metrics.PipelineRecordsTotal.WithLabelValues("failed").Inc()
	p.failed.Add(1)
	detail := fmt.Sprintf("%s: %v", stage, cause)
	if err := p.store.FailRecord(ctx, recordID, detail); err != nil {
		return fmt.Errorf("mark failed (%s): %w", detail, err)
	}
	return fmt.Errorf("%s stage: %w", stage, cause)
}
