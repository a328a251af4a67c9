package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tgreddit/pkg/logx"
)

const listingFixture = `{
  "data": {
    "children": [
      {"data": {"id": "p1", "subreddit": "golang", "title": "First", "ups": 120, "permalink": "/r/golang/comments/p1/first/", "url": "https://i.redd.it/a.jpg", "post_hint": "image"}},
      {"data": {"id": "p2", "subreddit": "golang", "title": "Second", "ups": 80, "permalink": "/r/golang/comments/p2/second/", "url": "https://v.redd.it/b", "is_video": true}},
      {"data": {"id": "p3", "subreddit": "golang", "title": "Third", "ups": 40, "permalink": "/r/golang/comments/p3/third/", "url": "https://www.reddit.com/r/golang/comments/p3/third/", "is_self": true}}
    ]
  }
}`

func TestFetchTop(t *testing.T) {
	t.Parallel()
	var gotPath, gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, listingFixture)
	}))
	defer srv.Close()

	c := New(logx.Nop(), WithBaseURL(srv.URL))
	posts, err := c.FetchTop(context.Background(), "golang", 3, "day")
	if err != nil {
		t.Fatalf("FetchTop: %v", err)
	}

	if gotPath != "/r/golang/top.json" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotQuery != "limit=3&t=day" {
		t.Fatalf("query = %s", gotQuery)
	}
	if gotUA == "" {
		t.Fatal("no User-Agent sent")
	}

	// Ranking order must survive decoding untouched.
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	if len(ids) != 3 || ids[0] != "p1" || ids[1] != "p2" || ids[2] != "p3" {
		t.Fatalf("post order = %v", ids)
	}
	if posts[0].Type() != TypeImage || posts[1].Type() != TypeVideo || posts[2].Type() != TypeSelf {
		t.Fatalf("types = %s %s %s", posts[0].Type(), posts[1].Type(), posts[2].Type())
	}
}

func TestGetLink(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/info.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "t3_p1" {
			t.Errorf("id = %s", got)
		}
		fmt.Fprint(w, `{"data":{"children":[{"data":{"id":"p1","title":"First","post_hint":"image"}}]}}`)
	}))
	defer srv.Close()

	c := New(logx.Nop(), WithBaseURL(srv.URL))
	p, err := c.GetLink(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if p.ID != "p1" || p.PostHint != "image" {
		t.Fatalf("post = %+v", p)
	}
}

func TestGetLinkMissing(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"children":[]}}`)
	}))
	defer srv.Close()

	c := New(logx.Nop(), WithBaseURL(srv.URL))
	_, err := c.GetLink(context.Background(), "nope")
	if !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestFetchErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusForbidden, true},
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(logx.Nop(), WithBaseURL(srv.URL))
			_, err := c.FetchTop(context.Background(), "golang", 1, "day")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsPermanent(err); got != tt.permanent {
				t.Fatalf("IsPermanent = %v, want %v (err: %v)", got, tt.permanent, err)
			}
		})
	}
}

func TestFetchNetworkErrorTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(logx.Nop(), WithBaseURL(srv.URL))
	_, err := c.FetchTop(context.Background(), "golang", 1, "day")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Fatalf("network error classified permanent: %v", err)
	}
}

func TestFetchBadBodyTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	c := New(logx.Nop(), WithBaseURL(srv.URL))
	_, err := c.FetchTop(context.Background(), "golang", 1, "day")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Fatalf("decode error classified permanent: %v", err)
	}
}
