package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/newsclust/newsclust/internal/cluster"
	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/fingerprint"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/internal/queue"
	"github.com/newsclust/newsclust/internal/recall"
	"github.com/newsclust/newsclust/internal/verify"
	"github.com/newsclust/newsclust/pkg/types"
)

// Metrics is the narrow counter surface the pipeline needs; satisfied by
// internal/metrics.Collector in production and a no-op in tests.
type Metrics interface {
	IncVerifierTruncated()
	IncClusterConflict()
	ObserveArticleLatency(d time.Duration)
	SetQueueDepth(n int64)
}

type noopMetrics struct{}

func (noopMetrics) IncVerifierTruncated()            {}
func (noopMetrics) IncClusterConflict()              {}
func (noopMetrics) ObserveArticleLatency(time.Duration) {}
func (noopMetrics) SetQueueDepth(int64)              {}

// Pipeline wires Fingerprinter -> Recaller -> Verifier -> cluster.Manager
// over a fixed worker Pool consuming a shared Queue, implementing the
// per-article path of spec.md §4.6.
type Pipeline struct {
	pool *Pool
	q    queue.Queue
	gw   gateway.Gateway
	fp   *fingerprint.Fingerprinter
	rc   *recall.Recaller
	vf   *verify.Verifier
	mgr  *cluster.Manager
	cfg  config.IngestionConfig
	verifyBudget time.Duration
	log  zerolog.Logger
	m    Metrics
}

// New assembles a Pipeline. m may be nil, in which case metrics are
// discarded.
func New(q queue.Queue, gw gateway.Gateway, fp *fingerprint.Fingerprinter, rc *recall.Recaller, vf *verify.Verifier, mgr *cluster.Manager, cfg config.IngestionConfig, verifyCfg config.VerifyConfig, log zerolog.Logger, m Metrics) (*Pipeline, error) {
	pool, err := NewPool(cfg.Workers, cfg.MaxBlockingTasks)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Pipeline{pool: pool, q: q, gw: gw, fp: fp, rc: rc, vf: vf, mgr: mgr, cfg: cfg, verifyBudget: verifyCfg.Budget, log: log, m: m}, nil
}

// Run submits cfg.Workers long-running consumer loops to the pool and
// blocks until ctx is cancelled, then waits for in-flight work to drain.
func (p *Pipeline) Run(ctx context.Context) {
	n := p.cfg.Workers
	if n <= 0 {
		n = 8
	}
	for i := 0; i < n; i++ {
		_ = p.pool.Submit(func() { p.workerLoop(ctx) })
	}
	<-ctx.Done()
	p.pool.Shutdown()
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, handle, err := p.q.Reserve(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			p.log.Error().Err(err).Msg("queue reserve failed")
			continue
		}

		if depth, derr := p.q.Depth(ctx); derr == nil {
			p.m.SetQueueDepth(depth)
		}

		p.process(ctx, msg, handle)
	}
}

// process runs one article through the similarity pipeline and resolves
// the queue delivery (ack, delayed nack, or dead-letter).
func (p *Pipeline) process(ctx context.Context, msg queue.Message, handle string) {
	start := time.Now()
	defer func() { p.m.ObserveArticleLatency(time.Since(start)) }()

	log := p.log.With().Str("article_id", msg.ArticleID).Int("attempt", msg.Attempt).Logger()

	article, err := p.gw.GetArticle(ctx, msg.ArticleID)
	if errors.Is(err, gateway.ErrNotFound) {
		// Missing article: spec.md §4.6 step 2, "drop with error" — this
		// is not retryable, the article was never written.
		log.Error().Err(err).Msg("dropping job: article not found")
		_ = p.q.Ack(ctx, handle)
		return
	}
	if err != nil {
		p.handleTransientError(ctx, msg, handle, err, log)
		return
	}

	// A deleted article is detached from whatever cluster it belongs to
	// rather than fingerprinted; the cluster itself is torn down once
	// every member is deleted (spec.md §3).
	if article.State == types.ArticleDeleted {
		if err := p.mgr.Remove(ctx, article.ID); err != nil {
			if errors.Is(err, cluster.ErrConflictExhausted) {
				p.m.IncClusterConflict()
			}
			p.handleTransientError(ctx, msg, handle, err, log)
			return
		}
		_ = p.q.Ack(ctx, handle)
		return
	}

	// Idempotency short-circuit (spec.md §4.6 step 3): a plain ingest job
	// for an already-terminal article is a stale redelivery, unless this
	// is a recheck job, which is specifically meant to reopen it.
	if msg.JobType != queue.JobRecheck && article.ClusterStatus != types.ClusterStatusPending {
		_ = p.q.Ack(ctx, handle)
		return
	}

	fp, err := p.gw.GetFingerprint(ctx, msg.ArticleID)
	if err != nil || len(fp.MinHash) == 0 {
		fp = p.fp.Compute(article.ID, article.Body)
		if err := p.gw.PutArticle(ctx, article, fp); err != nil {
			p.handleTransientError(ctx, msg, handle, err, log)
			return
		}
	}

	if len(fp.MinHash) == 0 || article.Body == "" {
		// Empty-text articles have an empty shingle set and can never
		// match anything (spec.md §4.1).
		p.finish(ctx, article, types.IngestResult{ArticleID: article.ID, Outcome: types.OutcomeUnique}, handle, log)
		return
	}

	candidates, err := p.rc.FindCandidates(ctx, article, fp)
	if err != nil {
		p.handleTransientError(ctx, msg, handle, err, log)
		return
	}

	verifyCtx := ctx
	var cancel context.CancelFunc
	if p.verifyBudget > 0 {
		// Queue timeout = verifier budget + gateway budget + slack
		// (spec.md §5); here the verify context simply gets twice the
		// verifier budget, with no separate gateway budget added.
		verifyCtx, cancel = context.WithTimeout(ctx, p.verifyBudget*2)
		defer cancel()
	}

	result, err := p.vf.Verify(verifyCtx, article, candidates)
	if errors.Is(err, context.DeadlineExceeded) {
		// Resource exhaustion (spec.md §7): downgrade to unique, not an
		// error, and enqueue a recheck job rather than surfacing a
		// failure to the caller.
		log.Warn().Msg("verifier timed out, downgrading to tentative unique")
		p.finish(ctx, article, types.IngestResult{ArticleID: article.ID, Outcome: types.OutcomeUnique}, handle, log)
		p.scheduleRecheck(ctx, article.ID, "verifier_timeout")
		return
	}
	if err != nil {
		p.handleTransientError(ctx, msg, handle, err, log)
		return
	}
	if result.Truncated {
		p.m.IncVerifierTruncated()
	}

	assignment, err := p.mgr.Assign(ctx, article, fp, result.Matches)
	if errors.Is(err, cluster.ErrConflictExhausted) {
		p.m.IncClusterConflict()
		p.handleTransientError(ctx, msg, handle, err, log)
		return
	}
	if err != nil {
		p.handleTransientError(ctx, msg, handle, err, log)
		return
	}

	p.finish(ctx, article, assignment, handle, log)
}

func (p *Pipeline) finish(ctx context.Context, article types.Article, result types.IngestResult, handle string, log zerolog.Logger) {
	article.ClusterID = result.ClusterID
	article.ClusterStatus = outcomeToStatus(result.Outcome)
	if result.Outcome == types.OutcomeMatched {
		j := result.Jaccard
		article.SimilarityScore = &j
	} else {
		article.SimilarityScore = nil
	}
	article.UpdatedAt = time.Now().UTC()

	fp, ferr := p.gw.GetFingerprint(ctx, article.ID)
	if ferr != nil {
		fp = types.Fingerprint{ArticleID: article.ID}
	}
	if err := p.gw.PutArticle(ctx, article, fp); err != nil {
		log.Error().Err(err).Msg("failed to write back article outcome")
	}

	log.Info().Str("outcome", result.Outcome.String()).Str("cluster_id", result.ClusterID).Bool("merge_candidate", result.MergeCandidate).Msg("article assigned")
	_ = p.q.Ack(ctx, handle)
}

func outcomeToStatus(o types.IngestOutcome) types.ClusterStatus {
	switch o {
	case types.OutcomeMatched, types.OutcomeMergeCandidate:
		return types.ClusterStatusMatched
	case types.OutcomeUnique:
		return types.ClusterStatusUnique
	default:
		return types.ClusterStatusPending
	}
}

// handleTransientError applies the NACK-with-exponential-backoff schedule
// of spec.md §4.6 (base 1s, factor 2, cap 60s, max 5 attempts), moving to
// the dead-letter queue once attempts are exhausted.
func (p *Pipeline) handleTransientError(ctx context.Context, msg queue.Message, handle string, cause error, log zerolog.Logger) {
	maxAttempts := p.cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	nextAttempt := msg.Attempt + 1
	if nextAttempt > maxAttempts {
		log.Error().Err(cause).Msg("retries exhausted, moving to dead-letter")
		_ = p.q.Nack(ctx, handle, msg, 0, true, cause.Error())
		return
	}

	delay := backoffDelay(p.cfg, msg.Attempt)
	log.Warn().Err(cause).Dur("retry_delay", delay).Int("next_attempt", nextAttempt).Msg("transient error, scheduling retry")

	retryMsg := msg
	retryMsg.Attempt = nextAttempt
	_ = p.q.Nack(ctx, handle, retryMsg, delay, false, cause.Error())
}

// backoffDelay computes base*factor^attempt capped at cfg.RetryMaxDelay,
// via cenkalti/backoff's exponential policy configured to the spec's
// fixed schedule (no jitter) rather than its usual randomized defaults,
// so retries remain deterministic and testable.
func backoffDelay(cfg config.IngestionConfig, attempt int) time.Duration {
	base := cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Second
	}
	factor := cfg.RetryFactor
	if factor <= 0 {
		factor = 2
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = factor
	eb.MaxInterval = maxDelay
	eb.RandomizationFactor = 0
	eb.Reset()

	delay := eb.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}

// scheduleRecheck enqueues a recheck job, used when the verifier budget
// is exhausted (spec.md §4.6 failure handling). The job is enqueued at
// once; it is not held back for any delay.
func (p *Pipeline) scheduleRecheck(ctx context.Context, articleID string, reason string) {
	msg := queue.Message{JobType: queue.JobRecheck, ArticleID: articleID, EnqueuedAt: time.Now().UTC(), Reason: reason}
	if err := p.q.Enqueue(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("article_id", articleID).Msg("failed to schedule delayed recheck")
	}
}
