package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"tgreddit/pkg/logx"
)

// Executor abstracts subprocess execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(line string)) error
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(line string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	// yt-dlp reports errors on stderr; fold it into one stream so the
	// caller sees tool output in order.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if onOutput != nil {
			onOutput(sc.Text())
		}
	}
	return cmd.Wait()
}

// ytdlpArgs writes dimensions into the output filename; that is the
// simplest way to hand Telegram a correct aspect ratio.
func ytdlpArgs(dir, url string) []string {
	return []string{
		"--paths", dir,
		"--output", "%(title)s_%(width)sx%(height)s.%(ext)s",
		"-S", "res,ext:mp4:m4a",
		"--recode", "mp4",
		url,
	}
}

var dimensionsRe = regexp.MustCompile(`(?P<title>.*)_(?P<width>\d+)x(?P<height>\d+)\.`)

// parseVideoFilename extracts (title, width, height) from a yt-dlp output
// filename produced with ytdlpArgs.
func parseVideoFilename(p string) (string, int, int, bool) {
	m := dimensionsRe.FindStringSubmatch(filepath.Base(p))
	if m == nil {
		return "", 0, 0, false
	}
	w, err1 := strconv.Atoi(m[2])
	h, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return "", 0, 0, false
	}
	return m[1], w, h, true
}

func (a *Acquirer) runYtdlp(ctx context.Context, dir, url string) (*Asset, error) {
	args := ytdlpArgs(dir, url)
	a.log.Debug("running yt-dlp", logx.String("url", url), logx.Any("args", args))

	var tail []string
	err := a.exec.Run(ctx, a.ytdlp, args, func(line string) {
		a.log.Trace("yt-dlp output", logx.String("line", line))
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[1:]
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			// Classified as timeout by the caller.
			return nil, err
		}
		if unsupported(tail) {
			return nil, &AcquireError{Kind: KindUnsupportedURL, URL: url, Err: err}
		}
		return nil, &AcquireError{Kind: KindToolFailure, URL: url, Err: fmt.Errorf("%w: %s", err, lastLine(tail))}
	}

	// yt-dlp is expected to write exactly one file into dir.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &AcquireError{Kind: KindToolFailure, URL: url, Err: errors.New("yt-dlp produced no output file")}
	}
	p := filepath.Join(dir, entries[0].Name())
	title, w, h, ok := parseVideoFilename(p)
	if !ok {
		return nil, &AcquireError{Kind: KindToolFailure, URL: url, Err: fmt.Errorf("output filename %q has no dimensions", entries[0].Name())}
	}
	return &Asset{
		Kind:  AssetVideo,
		Title: title,
		Files: []File{{Path: p, Width: w, Height: h}},
	}, nil
}

func unsupported(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(l, "Unsupported URL") || strings.Contains(l, "is not a valid URL") {
			return true
		}
	}
	return false
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
