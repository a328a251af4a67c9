// Package poller drives one independent polling cycle per subscription:
// fetch ranked posts, drop what the ledger already delivered, acquire
// media, dispatch in rank order, and record each delivery immediately
// after its send succeeds.
//
// Cycles for different subscriptions never block each other. Within one
// subscription ticks keep a fixed cadence; a tick that would overlap a
// still-running cycle is skipped and logged.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgreddit/internal/config"
	"tgreddit/internal/dispatch"
	"tgreddit/internal/ledger"
	"tgreddit/internal/media"
	"tgreddit/internal/reddit"
	"tgreddit/internal/runtime/supervisor"
	"tgreddit/pkg/logx"
)

// Fetcher is the source-listing capability boundary.
type Fetcher interface {
	FetchTop(ctx context.Context, subreddit string, limit int, period string) ([]reddit.Post, error)
	GetLink(ctx context.Context, id string) (*reddit.Post, error)
}

// Ledger is the deduplication authority. Implementations must be safe for
// concurrent cycles.
type Ledger interface {
	Seen(ctx context.Context, chatID int64, subreddit, postID string) (bool, error)
	MarkDelivered(ctx context.Context, chatID int64, subreddit, postID, title string, at time.Time) error
	HasHistory(ctx context.Context, chatID int64, subreddit string) (bool, error)
}

// Acquirer fetches media into scoped temp storage.
type Acquirer interface {
	AcquireVideo(ctx context.Context, url string) (*media.Asset, error)
	AcquireImage(ctx context.Context, url string) (*media.Asset, error)
	AcquireGallery(ctx context.Context, urls []string) (*media.Asset, error)
}

// Dispatcher delivers one post to one chat.
type Dispatcher interface {
	Send(ctx context.Context, chatID int64, post *reddit.Post, asset *media.Asset) error
}

// storageError marks a ledger failure. The ledger is the correctness
// anchor: if it cannot be written or read, the whole process must stop
// rather than silently diverge.
type storageError struct{ err error }

func (e *storageError) Error() string { return "ledger storage failure: " + e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

func isStorageFailure(err error) bool {
	var se *storageError
	return errors.As(err, &se)
}

// errCycleAborted wraps a rejected dispatch; the cycle's remaining items
// are abandoned for this tick instead of burning rate budget against a
// dead destination.
var errCycleAborted = errors.New("cycle aborted")

type Deps struct {
	Fetcher    Fetcher
	Ledger     Ledger
	Acquirer   Acquirer
	Dispatcher Dispatcher
	Log        logx.Logger

	SkipInitialSend bool
	BackoffCap      time.Duration
}

type Service struct {
	fetcher    Fetcher
	ledger     Ledger
	acquirer   Acquirer
	dispatcher Dispatcher
	log        logx.Logger

	skipInitial bool
	backoffCap  time.Duration
}

func New(deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	backoffCap := deps.BackoffCap
	if backoffCap <= 0 {
		backoffCap = config.DefaultFetchBackoffCap
	}
	return &Service{
		fetcher:     deps.Fetcher,
		ledger:      deps.Ledger,
		acquirer:    deps.Acquirer,
		dispatcher:  deps.Dispatcher,
		log:         log,
		skipInitial: deps.SkipInitialSend,
		backoffCap:  backoffCap,
	}
}

// Start parses every subscription schedule and launches one loop per
// subscription under the supervisor. A parse error fails startup before
// any cycle runs.
func (s *Service) Start(sup *supervisor.Supervisor, subs []config.Subscription) error {
	type entry struct {
		sub   config.Subscription
		sched Schedule
	}
	entries := make([]entry, 0, len(subs))
	for _, sub := range subs {
		sched, err := ParseSchedule(sub.Schedule)
		if err != nil {
			return fmt.Errorf("subscription /r/%s: %w", sub.Subreddit, err)
		}
		entries = append(entries, entry{sub: sub, sched: sched})
	}
	for _, e := range entries {
		e := e
		name := fmt.Sprintf("poll.%s.%d", e.sub.Subreddit, e.sub.ChatID)
		sup.Go(name, func(ctx context.Context) error {
			return s.loop(ctx, e.sub, e.sched)
		})
	}
	return nil
}

func (s *Service) loop(ctx context.Context, sub config.Subscription, sched Schedule) error {
	log := s.log.With(
		logx.String("subreddit", sub.Subreddit),
		logx.Int64("chat_id", sub.ChatID),
	)
	log.Info("subscription started",
		logx.String("schedule", sched.String()),
		logx.Int("limit", sub.Limit),
		logx.String("time", sub.Time),
		logx.Int("min_score", sub.MinScore),
		logx.Bool("media", sub.Media))

	var backoff time.Duration
	next := time.Now()
	for {
		if err := waitUntil(ctx, next); err != nil {
			log.Info("subscription stopped")
			return nil
		}
		tickAt := time.Now()

		err := s.runCycle(ctx, sub, log)
		switch {
		case err == nil:
			backoff = 0
		case isStorageFailure(err):
			return err
		case errors.Is(err, context.Canceled):
			log.Info("subscription stopped")
			return nil
		case reddit.IsPermanent(err):
			backoff = nextBackoff(backoff, sched.BaseInterval(), s.backoffCap)
			log.Warn("permanent fetch failure, extending delay",
				logx.Err(err), logx.Duration("backoff", backoff))
		default:
			// Transient: retry at the next scheduled tick, no busy
			// retry against a struggling source.
			log.Warn("cycle failed", logx.Err(err))
		}

		if backoff > 0 {
			next = tickAt.Add(backoff)
			continue
		}
		var skipped []time.Time
		next, skipped = advanceTick(sched, tickAt, time.Now())
		for _, missed := range skipped {
			log.Warn("tick skipped, previous cycle overran", logx.Time("missed", missed))
		}
	}
}

// advanceTick returns the tick after tickAt, dropping every cadence point
// the previous cycle overran. An overrunning cycle fires once at the
// following cadence point, never twice in a row to catch up.
func advanceTick(sched Schedule, tickAt, now time.Time) (time.Time, []time.Time) {
	next := sched.Next(tickAt)
	var skipped []time.Time
	for !next.After(now) {
		skipped = append(skipped, next)
		next = sched.Next(next)
	}
	return next, skipped
}

func nextBackoff(cur, base, limit time.Duration) time.Duration {
	if cur <= 0 {
		cur = base
	}
	cur *= 2
	if cur > limit {
		cur = limit
	}
	return cur
}

func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// runCycle executes one fetch→filter→acquire→dispatch pass.
func (s *Service) runCycle(ctx context.Context, sub config.Subscription, log logx.Logger) error {
	posts, err := s.fetcher.FetchTop(ctx, sub.Subreddit, sub.Limit, sub.Time)
	if err != nil {
		return err
	}
	log.Debug("fetched posts", logx.Int("count", len(posts)))

	// A fresh (chat, subreddit) pair only marks posts as delivered so a
	// new subscription doesn't flood the chat with old history.
	onlyMark := false
	if s.skipInitial {
		has, err := s.ledger.HasHistory(ctx, sub.ChatID, sub.Subreddit)
		if err != nil {
			return &storageError{err: err}
		}
		onlyMark = !has
		if onlyMark {
			log.Info("first cycle for subscription, marking without sending")
		}
	}

	for i := range posts {
		// Cooperative drain: never start a new item once shutdown began.
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.processPost(ctx, sub, &posts[i], onlyMark, log)
		switch {
		case err == nil:
		case errors.Is(err, errCycleAborted):
			log.Warn("destination rejected send, aborting remaining items", logx.Err(err))
			return nil
		case isStorageFailure(err):
			return err
		default:
			// Isolated failure: the post stays unrecorded and is
			// retried on the next eligible cycle.
			log.Warn("post not delivered", logx.String("post_id", posts[i].ID), logx.Err(err))
		}
	}
	return nil
}

func (s *Service) processPost(ctx context.Context, sub config.Subscription, post *reddit.Post, onlyMark bool, log logx.Logger) error {
	log = log.With(logx.String("post_id", post.ID))

	kind := post.Type()
	if kind == reddit.TypeUnknown && post.PostHint == "" && !post.IsSelf {
		// Listings sometimes omit post_hint where a direct lookup has
		// it. Best effort; an unknown post still goes out as a link.
		if full, err := s.fetcher.GetLink(ctx, post.ID); err == nil {
			*post = *full
			kind = post.Type()
		} else {
			log.Debug("post_hint lookup failed", logx.Err(err))
		}
	}

	if sub.Filter != "" && string(kind) != sub.Filter {
		log.Debug("post does not match filter", logx.String("type", string(kind)), logx.String("filter", sub.Filter))
		return nil
	}

	// Score is re-evaluated fresh every cycle: a post below threshold
	// today may qualify tomorrow, so nothing is recorded here.
	if post.Ups < sub.MinScore {
		log.Debug("post below score threshold", logx.Int("score", post.Ups), logx.Int("min_score", sub.MinScore))
		return nil
	}

	seen, err := s.ledger.Seen(ctx, sub.ChatID, sub.Subreddit, post.ID)
	if err != nil {
		return &storageError{err: err}
	}
	if seen {
		log.Debug("post already delivered, skipping")
		return nil
	}

	if onlyMark {
		return s.record(ctx, sub, post, log)
	}

	var asset *media.Asset
	if sub.Media {
		asset = s.acquireFor(ctx, post, kind, log)
		if asset != nil {
			defer asset.Release()
		}
	}

	if err := s.dispatcher.Send(ctx, sub.ChatID, post, asset); err != nil {
		if dispatch.IsRejected(err) {
			return fmt.Errorf("%w: %v", errCycleAborted, err)
		}
		return err
	}
	log.Info("post delivered", logx.String("title", post.Title), logx.Int("score", post.Ups))

	return s.record(ctx, sub, post, log)
}

// record writes the delivery row. It deliberately ignores the cycle's
// cancellation: once the message went out, the write must complete during
// drain or the post would be re-sent after restart.
func (s *Service) record(ctx context.Context, sub config.Subscription, post *reddit.Post, log logx.Logger) error {
	recCtx := context.WithoutCancel(ctx)
	err := s.ledger.MarkDelivered(recCtx, sub.ChatID, sub.Subreddit, post.ID, post.Title, time.Now())
	if errors.Is(err, ledger.ErrAlreadyDelivered) {
		// Lost a race with another cycle for the same chat; the post
		// was delivered either way.
		log.Warn("delivery already recorded")
		return nil
	}
	if err != nil {
		return &storageError{err: err}
	}
	return nil
}

// acquireFor fetches media for media-bearing post types. Acquisition
// failure is not delivery failure: the caller sends text-only instead.
func (s *Service) acquireFor(ctx context.Context, post *reddit.Post, kind reddit.PostType, log logx.Logger) *media.Asset {
	var (
		asset *media.Asset
		err   error
	)
	switch kind {
	case reddit.TypeVideo:
		asset, err = s.acquirer.AcquireVideo(ctx, post.URL)
	case reddit.TypeImage:
		asset, err = s.acquirer.AcquireImage(ctx, post.URL)
	case reddit.TypeGallery:
		urls := galleryURLs(post)
		if len(urls) == 0 {
			log.Warn("gallery post has no resolvable frames")
			return nil
		}
		asset, err = s.acquirer.AcquireGallery(ctx, urls)
	default:
		return nil
	}
	if err != nil {
		log.Warn("media acquisition failed, sending text-only", logx.Err(err))
		return nil
	}
	return asset
}

// galleryURLs resolves the gallery's frame URLs in display order.
func galleryURLs(post *reddit.Post) []string {
	if post.Gallery == nil || post.MediaMetadata == nil {
		return nil
	}
	urls := make([]string, 0, len(post.Gallery.Items))
	for _, item := range post.Gallery.Items {
		mm, ok := post.MediaMetadata[item.MediaID]
		if !ok || mm.S.URL == "" {
			continue
		}
		urls = append(urls, mm.S.ImageURL())
	}
	return urls
}
