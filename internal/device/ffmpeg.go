package device

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const defaultStartupProbe = 300 * time.Millisecond

// FFmpegOpener captures V4L2 devices through an ffmpeg process that writes
// a JPEG stream to stdout.
type FFmpegOpener struct {
	Binary      string
	InputFormat string
	Width       int
	Height      int
	FPS         int
	// StartupProbe is how long Open waits for ffmpeg to die on a bad device
	// before handing the source to the caller.
	StartupProbe time.Duration
}

// Args returns the ffmpeg arguments used to capture id.
func (o *FFmpegOpener) Args(id ID) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "v4l2",
		"-input_format", o.InputFormat,
		"-video_size", strconv.Itoa(o.Width) + "x" + strconv.Itoa(o.Height),
		"-framerate", strconv.Itoa(o.FPS),
		"-i", string(id),
		"-f", "image2pipe",
	}
	if o.InputFormat == "mjpeg" {
		args = append(args, "-vcodec", "copy")
	} else {
		args = append(args, "-vcodec", "mjpeg", "-q:v", "5")
	}
	return append(args, "-")
}

// Open starts ffmpeg for id. It fails with ErrOpen when the node is not
// accessible, ffmpeg cannot start, or ffmpeg exits during the startup probe.
func (o *FFmpegOpener) Open(ctx context.Context, id ID) (Source, error) {
	path := string(id)
	if err := unix.Access(path, unix.R_OK); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	cmd := exec.Command(o.Binary, o.Args(id)...)
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrOpen, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrOpen, o.Binary, err)
	}

	src := &ffmpegSource{
		cmd:    cmd,
		reader: newMJPEGReader(stdout),
		exited: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(src.exited)
	}()

	probe := o.StartupProbe
	if probe <= 0 {
		probe = defaultStartupProbe
	}
	timer := time.NewTimer(probe)
	defer timer.Stop()
	select {
	case <-src.exited:
		return nil, fmt.Errorf("%w: %s: ffmpeg exited: %s", ErrOpen, path, stderr.String())
	case <-ctx.Done():
		_ = src.Close()
		return nil, ctx.Err()
	case <-timer.C:
	}
	return src, nil
}

type ffmpegSource struct {
	cmd       *exec.Cmd
	reader    *mjpegReader
	exited    chan struct{}
	closeOnce sync.Once
}

func (s *ffmpegSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	data, err := s.reader.Next()
	if err != nil {
		if err == io.EOF {
			return Frame{}, fmt.Errorf("%w: capture process ended", ErrRead)
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return Frame{Data: data, CapturedAt: time.Now()}, nil
}

// Close kills ffmpeg, which also unblocks a pending Read on the pipe.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		select {
		case <-s.exited:
		case <-time.After(2 * time.Second):
		}
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = b.data[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := strings.TrimSpace(string(b.data))
	if text == "" {
		return "no diagnostic output"
	}
	return text
}
