package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
)

// ExtractFrame returns frame n of the video as JPEG bytes.
func ExtractFrame(ctx context.Context, path string, n int) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, n),
		"-vframes", "1",
		"-f", "image2",
		"-vcodec", "mjpeg",
		"pipe:1",
	)
	cmd.Stdout = &buf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("frame %d not found in %s", n, path)
	}
	return buf.Bytes(), nil
}

// DecodeFrame returns frame n as an image.
func DecodeFrame(ctx context.Context, path string, n int) (image.Image, error) {
	data, err := ExtractFrame(ctx, path, n)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", n, err)
	}
	return img, nil
}

// Frame is one decoded frame in a stream sweep.
type Frame struct {
	Num   int
	Image image.Image
}

// Walk decodes every stride-th frame and hands it to fn with its source
// frame number. fn returning an error stops the sweep.
func Walk(ctx context.Context, path string, stride int, fn func(Frame) error) error {
	if stride < 1 {
		stride = 1
	}
	args := []string{"-i", path}
	if stride > 1 {
		args = append(args, "-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, stride), "-vsync", "vfr")
	}
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "pipe:1")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreadable, path)
	}

	idx := 0
	walkErr := SplitMJPEG(stdout, func(frame []byte) error {
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return fmt.Errorf("decode frame %d: %w", idx*stride, err)
		}
		if err := fn(Frame{Num: idx * stride, Image: img}); err != nil {
			return err
		}
		idx++
		return nil
	})
	if walkErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return walkErr
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	if idx == 0 {
		return fmt.Errorf("%w: %s", ErrNoFrames, path)
	}
	return nil
}

// SplitMJPEG scans a concatenated-JPEG stream and calls fn with each
// complete frame. ffmpeg's mjpeg output carries no embedded thumbnails,
// so the first EOI marker after an SOI terminates the frame.
func SplitMJPEG(r io.Reader, fn func([]byte) error) error {
	br := bufio.NewReaderSize(r, 1<<20)
	var frame []byte
	inFrame := false
	var prev byte
	havePrev := false
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !inFrame {
			if havePrev && prev == 0xFF && b == 0xD8 {
				inFrame = true
				frame = append(frame[:0], 0xFF, 0xD8)
				havePrev = false
				continue
			}
			prev, havePrev = b, true
			continue
		}
		frame = append(frame, b)
		if len(frame) >= 4 && frame[len(frame)-2] == 0xFF && frame[len(frame)-1] == 0xD9 {
			out := make([]byte, len(frame))
			copy(out, frame)
			if err := fn(out); err != nil {
				return err
			}
			inFrame = false
			havePrev = false
		}
	}
}
