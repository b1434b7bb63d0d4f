package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	// ErrUnreadable means ffprobe could not open the file as video.
	ErrUnreadable = errors.New("failed to open video file")
	// ErrNoFrames means the container opened but holds no video frames.
	ErrNoFrames = errors.New("video contains no frames")
)

// Extensions is the accepted video container whitelist.
var Extensions = []string{".mp4", ".avi", ".mov", ".mkv", ".m4v", ".3gp"}

// Info describes a probed video.
type Info struct {
	Path        string
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
	DurationSec float64
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		NbFrames   string `json:"nb_frames"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe and returns stream metadata. The frame count falls
// back to duration*fps when the container does not record nb_frames.
func Probe(ctx context.Context, path string) (Info, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrNoFrames, path)
	}
	s := po.Streams[0]
	info := Info{
		Path:   path,
		Width:  s.Width,
		Height: s.Height,
		FPS:    parseRate(s.RFrameRate),
	}
	if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
		info.DurationSec = d
	} else if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		info.DurationSec = d
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.TotalFrames = n
	} else if info.FPS > 0 && info.DurationSec > 0 {
		info.TotalFrames = int(info.DurationSec * info.FPS)
	}
	if info.TotalFrames <= 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrNoFrames, path)
	}
	return info, nil
}

// parseRate parses an ffprobe rational like "30000/1001".
func parseRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// HasVideoExt reports whether name carries a whitelisted video extension.
func HasVideoExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListVideos returns video file names in dir, sorted.
func ListVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if HasVideoExt(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
