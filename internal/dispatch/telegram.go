package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgreddit/pkg/logx"
)

// Sender is the destination-chat capability boundary. The production
// implementation wraps telebot; tests substitute a fake.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, html string, webPreview bool) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string) error
	SendVideo(ctx context.Context, chatID int64, path, caption string, width, height int) error
	SendAlbum(ctx context.Context, chatID int64, paths []string, caption string) error
}

// TelegramSender implements Sender on telebot. Constructing it validates
// the token against the Bot API (getMe), so bad credentials fail startup.
type TelegramSender struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegramSender(token string, log logx.Logger) (*TelegramSender, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 2 * time.Minute},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSender{bot: b, log: log}, nil
}

func (t *TelegramSender) send(ctx context.Context, chatID int64, what any, opts *tele.SendOptions) error {
	// telebot calls are not context-aware; check before committing to a
	// send so a drained cycle stops at the item boundary, and let an
	// in-flight call run to completion.
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tele.ChatID(chatID), what, opts)
	return classify(err)
}

func (t *TelegramSender) SendMessage(ctx context.Context, chatID int64, html string, webPreview bool) error {
	return t.send(ctx, chatID, html, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: !webPreview,
	})
}

func (t *TelegramSender) SendPhoto(ctx context.Context, chatID int64, path, caption string) error {
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: caption}
	return t.send(ctx, chatID, photo, &tele.SendOptions{ParseMode: tele.ModeHTML})
}

func (t *TelegramSender) SendVideo(ctx context.Context, chatID int64, path, caption string, width, height int) error {
	video := &tele.Video{
		File:    tele.FromDisk(path),
		Caption: caption,
		Width:   width,
		Height:  height,
	}
	return t.send(ctx, chatID, video, &tele.SendOptions{ParseMode: tele.ModeHTML})
}

func (t *TelegramSender) SendAlbum(ctx context.Context, chatID int64, paths []string, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	album := make(tele.Album, 0, len(paths))
	for i, p := range paths {
		photo := &tele.Photo{File: tele.FromDisk(p)}
		if i == 0 {
			photo.Caption = caption
		}
		album = append(album, photo)
	}
	_, err := t.bot.SendAlbum(tele.ChatID(chatID), album, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return classify(err)
}

// classify maps telebot errors onto the SendError taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood *tele.FloodError
	if errors.As(err, &flood) {
		return &SendError{
			Kind:       KindRateLimited,
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel),
		errors.Is(err, tele.ErrNotStartedByUser):
		return &SendError{Kind: KindRejected, Err: err}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return &SendError{Kind: KindRejected, Err: err}
	}

	return &SendError{Kind: KindTransient, Err: err}
}
