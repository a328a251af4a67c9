// Package message renders posts as Telegram HTML.
package message

import (
	"fmt"
	"strings"

	"tgreddit/internal/reddit"
)

func escape(s string) string {
	return strings.NewReplacer("<", "&lt;", ">", "&gt;").Replace(s)
}

func anchor(href, text string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, href, escape(text))
}

func subredditLink(subreddit, base string) string {
	return anchor(reddit.SubredditURL(subreddit, base), "/r/"+subreddit)
}

// meta renders the "/r/sub [comments, old]" footer line. With a custom
// links base URL the old.reddit.com link makes no sense and is omitted.
func meta(p *reddit.Post, base string) string {
	subLink := subredditLink(p.Subreddit, base)
	comments := anchor(p.PermalinkURL(base), "comments")
	if base != "" {
		return fmt.Sprintf("%s [%s]", subLink, comments)
	}
	old := anchor(p.OldPermalinkURL(), "old")
	return fmt.Sprintf("%s [%s, %s]", subLink, comments, old)
}

// MediaCaption is the caption used for photo/video/album messages and the
// body for self posts.
func MediaCaption(p *reddit.Post, base string) string {
	return escape(p.Title) + "\n" + meta(p, base)
}

// LinkMessage is the body for link posts: the title anchors the target URL.
func LinkMessage(p *reddit.Post, base string) string {
	return anchor(p.URL, p.Title) + "\n" + meta(p, base)
}
