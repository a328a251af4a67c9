package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want SendErrKind
	}{
		{
			name: "flood",
			err: &tele.FloodError{
				Error:      &tele.Error{Code: 429, Description: "Too Many Requests: retry after 7"},
				RetryAfter: 7,
			},
			want: KindRateLimited,
		},
		{name: "chat not found", err: tele.ErrChatNotFound, want: KindRejected},
		{name: "blocked by user", err: tele.ErrBlockedByUser, want: KindRejected},
		{name: "kicked from group", err: tele.ErrKickedFromGroup, want: KindRejected},
		{name: "not started by user", err: tele.ErrNotStartedByUser, want: KindRejected},
		{
			name: "other 403",
			err:  &tele.Error{Code: 403, Description: "Forbidden: some new variant"},
			want: KindRejected,
		},
		{
			name: "server error",
			err:  &tele.Error{Code: 502, Description: "Bad Gateway"},
			want: KindTransient,
		},
		{name: "plain error", err: fmt.Errorf("connection reset"), want: KindTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.err)
			var se *SendError
			if !errors.As(got, &se) {
				t.Fatalf("classify returned %T", got)
			}
			if se.Kind != tt.want {
				t.Fatalf("kind = %d, want %d", se.Kind, tt.want)
			}
		})
	}
}

func TestClassifyFloodCarriesRetryAfter(t *testing.T) {
	t.Parallel()
	err := classify(&tele.FloodError{
		Error:      &tele.Error{Code: 429, Description: "Too Many Requests"},
		RetryAfter: 12,
	})
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("classify returned %T", err)
	}
	if se.RetryAfter != 12*time.Second {
		t.Fatalf("RetryAfter = %v, want 12s", se.RetryAfter)
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	if err := classify(nil); err != nil {
		t.Fatalf("classify(nil) = %v", err)
	}
}
