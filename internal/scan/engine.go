package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/drinkits/attachment-architect/internal/jira"
	"github.com/drinkits/attachment-architect/internal/metrics"
)

// DigestKind tags how a HashResult's digest was produced.
type DigestKind string

const (
	// DigestContent means the digest covers the attachment bytes.
	DigestContent DigestKind = "content"
	// DigestLocator means the download failed or was skipped and the
	// digest covers only the content URL. Weaker; flagged degraded.
	DigestLocator DigestKind = "locator"
	// DigestFailed means no usable digest was produced (cancellation).
	// Failed results are discarded by the orchestrator, never merged.
	DigestFailed DigestKind = "failed"
)

// HashResult is the outcome of downloading and hashing one attachment.
type HashResult struct {
	AttachmentID string
	Digest       string
	Kind         DigestKind
	Size         int64
	Err          error // last error for degraded/failed results
}

// Fetcher opens a streaming reader over attachment bytes.
type Fetcher interface {
	OpenAttachment(ctx context.Context, contentURL string) (io.ReadCloser, error)
}

// EngineConfig tunes the download pool.
type EngineConfig struct {
	Workers     int           // concurrent downloads, default 12
	MaxFileSize int64         // attachments above this are not downloaded; default 5 GiB
	MaxRetries  uint64        // retry budget per attachment, default 3
	RetryBase   time.Duration // initial backoff, default 500ms
	Timeout     time.Duration // per-download deadline, default 5m
}

func (c *EngineConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 12
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 5 << 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

// Engine downloads attachment bodies through a bounded worker pool and
// produces digests. The pool is bounded per batch; the Engine itself is
// stateless across batches and safe to reuse.
type Engine struct {
	fetcher  Fetcher
	cfg      EngineConfig
	progress *Progress
	metrics  *metrics.Metrics
}

// NewEngine creates an Engine. progress and m may be nil.
func NewEngine(fetcher Fetcher, cfg EngineConfig, progress *Progress, m *metrics.Metrics) *Engine {
	cfg.applyDefaults()
	if progress == nil {
		progress = &Progress{}
	}
	return &Engine{fetcher: fetcher, cfg: cfg, progress: progress, metrics: m}
}

// ProcessBatch downloads and hashes every attachment in atts, at most
// cfg.Workers at a time. Results are returned in input order regardless of
// completion order, so callers can merge deterministically.
//
// Per-item transient failures degrade to a locator digest and never fail
// the batch. A fatal error (auth/permission) cancels remaining work and is
// returned; partial results are still populated.
func (e *Engine) ProcessBatch(ctx context.Context, atts []jira.Attachment) ([]HashResult, error) {
	results := make([]HashResult, len(atts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for i, att := range atts {
		i, att := i, att
		g.Go(func() error {
			res, err := e.processOne(gctx, att)
			results[i] = res
			return err // non-nil only for fatal errors
		})
	}

	err := g.Wait()

	// Slots skipped after a fatal cancellation keep a zero Kind; mark them
	// failed so the orchestrator discards them.
	for i := range results {
		if results[i].Kind == "" {
			results[i] = HashResult{
				AttachmentID: atts[i].ID,
				Kind:         DigestFailed,
				Size:         atts[i].Size,
				Err:          gctx.Err(),
			}
		}
	}
	return results, err
}

// processOne produces the HashResult for a single attachment. The returned
// error is non-nil only when the scan must abort.
func (e *Engine) processOne(ctx context.Context, att jira.Attachment) (HashResult, error) {
	res := HashResult{AttachmentID: att.ID, Size: att.Size}

	if err := ctx.Err(); err != nil {
		res.Kind = DigestFailed
		res.Err = err
		return res, nil
	}

	// Oversize attachments are never downloaded.
	if att.Size > e.cfg.MaxFileSize {
		slog.Warn("skipping oversized attachment",
			"file", att.Filename, "size", att.Size, "max", e.cfg.MaxFileSize)
		e.progress.Degraded.Add(1)
		e.metrics.DigestDegraded()
		res.Digest = LocatorDigest(att.Content)
		res.Kind = DigestLocator
		res.Err = fmt.Errorf("attachment exceeds size ceiling (%d bytes)", att.Size)
		return res, nil
	}

	backoff := retry.WithMaxRetries(e.cfg.MaxRetries, retry.NewExponential(e.cfg.RetryBase))

	var digest string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := e.downloadAndHash(ctx, att)
		if err == nil {
			digest = d
			return nil
		}
		if jira.IsFatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if jira.IsTransient(err) {
			e.progress.Retries.Add(1)
			e.metrics.RetryAttempted()
			slog.Debug("retrying attachment download",
				"file", att.Filename, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		res.Digest = digest
		res.Kind = DigestContent
	case jira.IsFatal(err):
		res.Kind = DigestFailed
		res.Err = err
		return res, fmt.Errorf("download %s: %w", att.Filename, err)
	case ctx.Err() != nil:
		// Batch cancelled; discard rather than degrade.
		res.Kind = DigestFailed
		res.Err = ctx.Err()
	default:
		// Retries exhausted; degrade rather than fail the item.
		slog.Warn("download failed, using locator digest",
			"file", att.Filename, "error", err)
		e.progress.Degraded.Add(1)
		e.metrics.DigestDegraded()
		e.metrics.DownloadFailed()
		res.Digest = LocatorDigest(att.Content)
		res.Kind = DigestLocator
		res.Err = err
	}
	return res, nil
}

// downloadAndHash streams one attachment body through the content hasher.
func (e *Engine) downloadAndHash(ctx context.Context, att jira.Attachment) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	e.metrics.DownloadStarted()
	defer e.metrics.DownloadFinished()

	body, err := e.fetcher.OpenAttachment(dctx, att.Content)
	if err != nil {
		return "", err
	}
	defer body.Close()

	digest, n, err := StreamDigest(body)
	if err != nil {
		return "", err
	}
	e.progress.BytesHashed.Add(n)
	e.metrics.BytesHashed(n)
	return digest, nil
}
