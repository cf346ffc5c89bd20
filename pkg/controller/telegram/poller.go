package telegram

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/murmur/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// UpdateSource long-polls Telegram for updates
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]json.RawMessage, int64, error)
}

// Poller drives the orchestrator from getUpdates instead of a webhook
type Poller struct {
	source      UpdateSource
	events      EventHandler
	timeout     time.Duration
	retryDelay  time.Duration
	concurrency int
}

type PollerOption func(*Poller)

func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.timeout = d
	}
}

func WithRetryDelay(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.retryDelay = d
	}
}

// WithConcurrency limits how many updates of one batch are processed at once
func WithConcurrency(n int) PollerOption {
	return func(p *Poller) {
		p.concurrency = n
	}
}

func NewPoller(source UpdateSource, events EventHandler, opts ...PollerOption) *Poller {
	p := &Poller{
		source:      source,
		events:      events,
		timeout:     30 * time.Second,
		retryDelay:  5 * time.Second,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. Each update is processed independently; a batch is
// acknowledged only after all of its updates finished.
func (p *Poller) Run(ctx context.Context) error {
	logger := logging.From(ctx)
	logger.Info("start polling updates", "timeout", p.timeout, "concurrency", p.concurrency)

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, next, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("failed to get updates, retrying", "error", err, "delay", p.retryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryDelay):
			}
			continue
		}

		p.processBatch(ctx, updates)
		offset = next
	}
}

func (p *Poller) processBatch(ctx context.Context, updates []json.RawMessage) {
	var eg errgroup.Group
	if p.concurrency > 0 {
		eg.SetLimit(p.concurrency)
	}

	for _, raw := range updates {
		eg.Go(func() error {
			detail, err := processUpdate(ctx, p.events, raw)
			if err != nil {
				logging.From(ctx).Error("failed to process update", "error", err)
				return nil
			}
			logging.From(ctx).Debug("update processed", "detail", detail)
			return nil
		})
	}

	_ = eg.Wait()
}
