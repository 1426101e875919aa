// Package notify posts the results of ended sessions to an external webhook.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/metrics"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

type Webhook struct {
	url     string
	http    *fasthttp.Client
	timeout time.Duration
	retries int
	backoff func(attempt int) time.Duration
	logger  *zap.Logger

	queue    chan arenadto.SessionResult
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Webhook)

func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithRetries(n int) Option {
	return func(w *Webhook) {
		if n > 0 {
			w.retries = n
		}
	}
}

func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(w *Webhook) { w.backoff = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithQueueSize bounds the number of results waiting to be sent. Results beyond it are dropped.
func WithQueueSize(n int) Option {
	return func(w *Webhook) {
		if n > 0 {
			w.queue = make(chan arenadto.SessionResult, n)
		}
	}
}

func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url:     strings.TrimSpace(url),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 5 * time.Second,
		retries: 3,
		backoff: backoffDuration,
		logger:  zap.NewNop(),
		queue:   make(chan arenadto.SessionResult, 128),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start runs the delivery worker until Close.
func (w *Webhook) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Close stops accepting results, delivers what is queued and waits for the worker.
func (w *Webhook) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// Enqueue hands t to the worker without blocking. It is meant to be used as the coordinator's
// ended hook.
func (w *Webhook) Enqueue(t store.Terminal) {
	res := ResultOf(t)
	select {
	case <-w.stop:
		return
	default:
	}
	select {
	case w.queue <- res:
	default:
		metrics.WebhookFailed()
		w.logger.Warn("webhook_queue_full", zap.String("session_id", res.SessionID))
	}
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for {
		select {
		case res := <-w.queue:
			w.deliver(res)
		case <-w.stop:
			for {
				select {
				case res := <-w.queue:
					w.deliver(res)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) deliver(res arenadto.SessionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout*time.Duration(w.retries+1))
	defer cancel()
	if err := w.Post(ctx, res); err != nil {
		metrics.WebhookFailed()
		w.logger.Warn("webhook_failed", zap.String("session_id", res.SessionID), zap.Error(err))
		return
	}
	w.logger.Debug("webhook_sent", zap.String("session_id", res.SessionID))
}

// Post sends one result, retrying transport errors and 5xx responses.
func (w *Webhook) Post(ctx context.Context, res arenadto.SessionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	var lastErr error
	for attempt := 1; attempt <= w.retries; attempt++ {
		err := w.http.DoDeadline(req, resp, w.deadline(ctx))
		switch {
		case err != nil:
			lastErr = fmt.Errorf("post webhook: %w", err)
		case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
			return nil
		default:
			lastErr = fmt.Errorf("webhook status=%d body=%s", resp.StatusCode(), truncate(string(resp.Body()), 256))
			if !shouldRetryStatus(resp.StatusCode()) {
				return lastErr
			}
		}
		if attempt == w.retries {
			break
		}
		if err := sleepWithContext(ctx, w.backoff(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (w *Webhook) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(w.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

// ResultOf flattens a terminal commit into the webhook body.
func ResultOf(t store.Terminal) arenadto.SessionResult {
	r := t.Record
	return arenadto.SessionResult{
		SessionID: r.SessionID,
		White:     r.White,
		Black:     r.Black,
		GameType:  string(r.GameType),
		Rated:     r.Rated,
		Result:    string(r.Result),
		EndReason: string(r.EndReason),
		Moves:     len(r.MovesUCI),
		PGN:       r.PGN,
		EndedAt:   r.EndedAt,
		Adjustments: lo.Map(t.Adjustments, func(a domain.RatingAdjustment, _ int) arenadto.ResultAdjustment {
			return arenadto.ResultAdjustment{
				Participant:  a.Participant,
				RatingBefore: a.RatingBefore,
				RatingAfter:  a.RatingAfter,
				Delta:        a.Delta,
			}
		}),
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
