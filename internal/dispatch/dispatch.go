// Package dispatch turns a ready post into outbound Telegram messages.
//
// Two composed layers govern the flow: a per-chat lock keeps delivery to
// one chat strictly ordered, and a global token bucket honors the
// platform's aggregate rate limit across all chats. Sends to different
// chats proceed concurrently.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tgreddit/internal/media"
	"tgreddit/internal/message"
	"tgreddit/internal/reddit"
	"tgreddit/pkg/logx"
)

type Config struct {
	// RatePerSec is the global outbound ceiling shared by all chats.
	RatePerSec int
	Burst      int
	// LinksBaseURL rewrites permalinks in message bodies.
	LinksBaseURL string
}

type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	links   string
	log     logx.Logger

	mu    sync.Mutex
	chats map[int64]*sync.Mutex

	// sleep is swapped in tests to avoid real flood waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(sender Sender, cfg Config, log logx.Logger) *Dispatcher {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rps
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		links:   cfg.LinksBaseURL,
		log:     log,
		chats:   make(map[int64]*sync.Mutex),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func (d *Dispatcher) chatLock(chatID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.chats[chatID]
	if m == nil {
		m = &sync.Mutex{}
		d.chats[chatID] = m
	}
	return m
}

// Send delivers one post to the chat, as media when an asset is attached
// and as text otherwise. A rate-limited response suspends only this call
// for the server's retry delay and retries once; a second consecutive
// rate limit surfaces as transient. The asset (if any) is NOT released
// here; the owner releases it when the dispatch attempt concludes.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, post *reddit.Post, asset *media.Asset) error {
	lock := d.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	err := d.sendOnce(ctx, chatID, post, asset)
	var se *SendError
	if !errors.As(err, &se) || se.Kind != KindRateLimited {
		return err
	}

	wait := se.RetryAfter
	if wait <= 0 {
		wait = time.Second
	}
	d.log.Warn("rate limited by telegram, retrying once",
		logx.Int64("chat_id", chatID), logx.String("post_id", post.ID), logx.Duration("retry_after", wait))
	if err := d.sleep(ctx, wait); err != nil {
		return err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	err = d.sendOnce(ctx, chatID, post, asset)
	if errors.As(err, &se) && se.Kind == KindRateLimited {
		// Two consecutive floods: stop burning rate budget on this
		// item and let the next cycle pick it up.
		return &SendError{Kind: KindTransient, RetryAfter: se.RetryAfter, Err: se.Err}
	}
	return err
}

func (d *Dispatcher) sendOnce(ctx context.Context, chatID int64, post *reddit.Post, asset *media.Asset) error {
	if asset != nil {
		caption := message.MediaCaption(post, d.links)
		switch asset.Kind {
		case media.AssetVideo:
			f := asset.Files[0]
			return d.sender.SendVideo(ctx, chatID, f.Path, caption, f.Width, f.Height)
		case media.AssetPhoto:
			return d.sender.SendPhoto(ctx, chatID, asset.Files[0].Path, caption)
		case media.AssetAlbum:
			paths := make([]string, len(asset.Files))
			for i, f := range asset.Files {
				paths[i] = f.Path
			}
			return d.sender.SendAlbum(ctx, chatID, paths, caption)
		}
	}

	// Text-only: self posts read better without a preview; everything
	// else links out and keeps the preview.
	if post.Type() == reddit.TypeSelf {
		return d.sender.SendMessage(ctx, chatID, message.MediaCaption(post, d.links), false)
	}
	return d.sender.SendMessage(ctx, chatID, message.LinkMessage(post, d.links), true)
}
