package reddit

import (
	"strings"
	"time"
)

// PostType drives how a post is delivered to Telegram.
type PostType string

const (
	TypeImage   PostType = "image"
	TypeVideo   PostType = "video"
	TypeLink    PostType = "link"
	TypeSelf    PostType = "self"
	TypeGallery PostType = "gallery"
	TypeUnknown PostType = "unknown"
)

// Post is one candidate item from a subreddit listing. Produced fresh on
// every fetch and never mutated.
type Post struct {
	ID        string  `json:"id"`
	Subreddit string  `json:"subreddit"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Created   float64 `json:"created_utc"`
	Ups       int     `json:"ups"`
	Permalink string  `json:"permalink"`
	URL       string  `json:"url"`

	PostHint  string       `json:"post_hint,omitempty"`
	IsSelf    bool         `json:"is_self"`
	IsVideo   bool         `json:"is_video"`
	IsGallery bool         `json:"is_gallery,omitempty"`
	Gallery   *GalleryData `json:"gallery_data,omitempty"`

	MediaMetadata map[string]MediaMetadata `json:"media_metadata,omitempty"`
}

// GalleryData describes the display order of a gallery; the URLs live in
// MediaMetadata keyed by MediaID.
type GalleryData struct {
	Items []GalleryItem `json:"items"`
}

type GalleryItem struct {
	MediaID string `json:"media_id"`
	ID      int    `json:"id"`
}

type MediaMetadata struct {
	S MediaSource `json:"s"`
}

type MediaSource struct {
	URL    string `json:"u"`
	Width  int    `json:"x"`
	Height int    `json:"y"`
}

// ImageURL returns the source URL with reddit's HTML escaping undone.
func (m MediaSource) ImageURL() string {
	return strings.ReplaceAll(m.URL, "&amp;", "&")
}

func (p *Post) CreatedAt() time.Time {
	return time.Unix(int64(p.Created), 0).UTC()
}

// Type classifies the post. Galleries never carry a post_hint; /r/bestof
// style posts carry nothing at all and come back as TypeUnknown, which
// callers deliver like a plain link.
func (p *Post) Type() PostType {
	switch {
	case p.IsGallery:
		return TypeGallery
	case p.IsVideo, p.PostHint == "hosted:video", p.PostHint == "rich:video", looksLikeVideoURL(p.URL):
		return TypeVideo
	case p.PostHint == "image":
		return TypeImage
	case p.IsSelf:
		return TypeSelf
	case p.PostHint == "link":
		return TypeLink
	default:
		return TypeUnknown
	}
}

func looksLikeVideoURL(url string) bool {
	if strings.Contains(url, "v.redd.it/") {
		return true
	}
	for _, ext := range []string{".gifv", ".mp4", ".webm"} {
		if strings.HasSuffix(url, ext) {
			return true
		}
	}
	return false
}

// PermalinkURL joins the post permalink onto base, or reddit.com when base
// is empty.
func (p *Post) PermalinkURL(base string) string {
	return FormatURLFromPath(p.Permalink, base)
}

// OldPermalinkURL points the comments at old.reddit.com.
func (p *Post) OldPermalinkURL() string {
	return "https://old.reddit.com" + p.Permalink
}

func FormatURLFromPath(path, base string) string {
	if base == "" {
		base = BaseURL
	}
	return strings.TrimRight(base, "/") + path
}

func SubredditURL(subreddit, base string) string {
	return FormatURLFromPath("/r/"+subreddit, base)
}
