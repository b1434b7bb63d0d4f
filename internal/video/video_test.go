package video

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	t.Parallel()
	require.InDelta(t, 29.97, parseRate("30000/1001"), 0.01)
	require.Equal(t, 25.0, parseRate("25/1"))
	require.Equal(t, 30.0, parseRate("30"))
	require.Equal(t, 0.0, parseRate("0/0"))
	require.Equal(t, 0.0, parseRate("garbage"))
}

func TestHasVideoExt(t *testing.T) {
	t.Parallel()
	require.True(t, HasVideoExt("clip.mp4"))
	require.True(t, HasVideoExt("CLIP.MOV"))
	require.True(t, HasVideoExt("a.3gp"))
	require.False(t, HasVideoExt("notes.txt"))
	require.False(t, HasVideoExt("clip"))
}

func TestListVideosFiltersExtensions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.avi", "c.mov", "d.mkv", "e.m4v", "f.3gp", "g.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755))

	videos, err := ListVideos(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a.mp4", "b.avi", "c.mov", "d.mkv", "e.m4v", "f.3gp"}, videos)
}

func TestListVideosMissingDir(t *testing.T) {
	t.Parallel()
	videos, err := ListVideos(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, videos)
}

func TestSplitMJPEG(t *testing.T) {
	t.Parallel()

	frameA := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frameB := []byte{0xFF, 0xD8, 0x03, 0xFF, 0x00, 0x04, 0xFF, 0xD9}
	stream := append(append([]byte{}, frameA...), frameB...)

	var got [][]byte
	err := SplitMJPEG(bytes.NewReader(stream), func(f []byte) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, frameA, got[0])
	require.Equal(t, frameB, got[1])
}

func TestSplitMJPEGTruncatedTail(t *testing.T) {
	t.Parallel()

	// a complete frame followed by a truncated one: only the complete
	// frame is delivered
	stream := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9, 0xFF, 0xD8, 0x02, 0x03}
	var got [][]byte
	err := SplitMJPEG(bytes.NewReader(stream), func(f []byte) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
