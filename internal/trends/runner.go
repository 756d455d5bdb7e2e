package trends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/thesisflow/thesisflow/internal/ai"
	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	// DiscoveryWindow bounds source collection.
	DiscoveryWindow = 90 * time.Second
	// SynthesisTimeout bounds report generation.
	SynthesisTimeout = 180 * time.Second
	// Retention is how long finished jobs stay queryable.
	Retention = 24 * time.Hour

	enhancedLimit = 30
	standardLimit = 20
)

// ErrShuttingDown is returned by Start after Shutdown.
var ErrShuttingDown = errors.New("trends runner is shutting down")

// Searcher collects papers within a time window.
type Searcher interface {
	Aggregate(ctx context.Context, query string, limit int, window time.Duration) (*model.SearchResult, error)
}

// Runner executes jobs, one goroutine each.
type Runner struct {
	store   *Store
	hub     *Hub
	search  Searcher
	gen     ai.Generator
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	discoveryWindow  time.Duration
	synthesisTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRunner creates a Runner. A nil generator always uses the fallback report.
func NewRunner(store *Store, hub *Hub, search Searcher, gen ai.Generator, recorder metrics.Recorder, logger *slog.Logger) *Runner {
	if gen == nil {
		gen = ai.Unavailable{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:            store,
		hub:              hub,
		search:           search,
		gen:              gen,
		metrics:          recorder,
		logger:           logger.With("component", "trends"),
		now:              time.Now,
		discoveryWindow:  DiscoveryWindow,
		synthesisTimeout: SynthesisTimeout,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetDiscoveryWindow overrides the discovery window.
func (r *Runner) SetDiscoveryWindow(d time.Duration) {
	if d > 0 {
		r.discoveryWindow = d
	}
}

// Submit creates a job and starts it.
func (r *Runner) Submit(userID, query string, timeframeMonths int, quality string) (*Job, error) {
	job, err := r.store.Create(userID, query, timeframeMonths, quality)
	if err != nil {
		return nil, err
	}
	if err := r.Start(job.ID); err != nil {
		_ = r.store.Update(job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
		return nil, err
	}
	r.metrics.IncTrendsJob("queued")
	return job, nil
}

// Start runs a stored job in the background.
func (r *Runner) Start(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShuttingDown
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(r.ctx, jobID)
	}()
	return nil
}

// Shutdown cancels running jobs and waits for them to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) update(jobID string, fn func(*Job)) {
	if err := r.store.Update(jobID, fn); err != nil {
		r.logger.Warn("job update failed", "job_id", jobID, "error", err)
	}
}

func (r *Runner) stage(jobID, stage string) {
	r.update(jobID, func(j *Job) {
		j.Stage = stage
		j.Progress = StageProgress(stage)
	})
}

func (r *Runner) emit(jobID, typ string, data any) {
	r.hub.Publish(jobID, Event{Type: typ, Data: data})
}

func (r *Runner) run(ctx context.Context, jobID string) {
	job, ok := r.store.Get(jobID)
	if !ok {
		return
	}
	defer r.prune()
	start := r.now()
	logger := r.logger.With("job_id", jobID)

	r.update(jobID, func(j *Job) {
		j.Status = StatusRunning
		j.Stage = StageInit
		j.Progress = StageProgress(StageInit)
		t := start.UTC()
		j.StartedAt = &t
	})
	r.emit(jobID, EventInit, map[string]any{"jobId": jobID, "ts": start.UnixMilli(), "query": job.Query})

	if err := r.execute(ctx, job); err != nil {
		logger.Warn("trends job failed", "error", err)
		r.update(jobID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
			t := r.now().UTC()
			j.FinishedAt = &t
		})
		r.emit(jobID, EventError, map[string]any{"error": err.Error()})
		r.metrics.IncTrendsJob("failed")
		return
	}

	r.update(jobID, func(j *Job) {
		j.Status = StatusDone
		j.Stage = StageDone
		j.Progress = StageProgress(StageDone)
		t := r.now().UTC()
		j.FinishedAt = &t
	})
	elapsed := r.now().Sub(start)
	r.emit(jobID, EventDone, map[string]any{"processingTime": elapsed.Milliseconds()})
	r.metrics.IncTrendsJob("done")
	logger.Info("trends job done", "duration_ms", elapsed.Milliseconds())
}

// prune drops finished jobs older than Retention. It runs whenever a job
// reaches a terminal state, failed or done.
func (r *Runner) prune() {
	if n := r.store.Prune(r.now().Add(-Retention)); n > 0 {
		r.logger.Debug("pruned trends jobs", "count", n)
	}
}

func (r *Runner) execute(ctx context.Context, job *Job) error {
	id := job.ID

	// Discovery
	r.stage(id, StageDiscovery)
	r.emit(id, EventProgress, map[string]any{"stage": StageDiscovery, "message": "Collecting latest sources"})

	limit := standardLimit
	if job.Quality == QualityEnhanced {
		limit = enhancedLimit
	}
	res, err := r.search.Aggregate(ctx, job.Query, limit, r.discoveryWindow)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	items := FilterTimeframe(ItemsFromPapers(res.Papers), job.TimeframeMonths, r.now())
	for _, it := range items {
		r.update(id, func(j *Job) { j.Items = append(j.Items, it) })
		r.emit(id, EventItem, map[string]any{"item": it})
	}

	// Metrics
	r.stage(id, StageMetrics)
	m := ComputeMetrics(job.Query, items)
	r.update(id, func(j *Job) { j.Metrics = &m })
	r.emit(id, EventMetrics, m)

	// Clustering
	r.stage(id, StageClustering)
	clusters := BuildClusters(items, r.now())
	if len(clusters) > 0 {
		r.update(id, func(j *Job) { j.Clusters = clusters })
		r.emit(id, EventClusters, map[string]any{"clusters": clusters})
	}

	// Timeline
	r.stage(id, StageTimeline)
	timeline := BuildTimeline(items)
	r.update(id, func(j *Job) { j.Timeline = timeline })
	r.emit(id, EventTimeline, map[string]any{"timeline": timeline})

	// Synthesis
	r.stage(id, StageSynthesis)
	r.emit(id, EventProgress, map[string]any{"stage": StageSynthesis, "message": "Generating report"})
	md := r.synthesize(ctx, job, items)
	if err := ctx.Err(); err != nil {
		return err
	}
	if md == "" {
		md, err = FallbackReport(job.Query, items, m, clusters, timeline)
		if err != nil {
			return err
		}
	}

	// Render
	r.stage(id, StageRender)
	html, err := RenderHTML(md)
	if err != nil {
		return err
	}
	report := Report{Markdown: md, HTML: html, WordCount: WordCount(md)}
	r.update(id, func(j *Job) { j.Report = &report })
	r.emit(id, EventReport, map[string]any{"markdown": md})
	return nil
}

// synthesize asks the generator for the report. Failures return "" so the
// caller falls back to the deterministic report.
func (r *Runner) synthesize(ctx context.Context, job *Job, items []Item) string {
	if len(items) == 0 {
		return ""
	}
	sctx, cancel := context.WithTimeout(ctx, r.synthesisTimeout)
	defer cancel()

	out, err := r.gen.Generate(sctx, SynthesisPrompt(job.Query, job.Quality, items))
	if err != nil {
		if !errors.Is(err, ai.ErrUnavailable) {
			r.logger.Warn("report generation failed, using fallback", "job_id", job.ID, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(out)
}
