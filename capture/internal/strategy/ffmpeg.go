package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/smartbox-capture/media"
)

// Bridge is the external-bridge variant: an ffmpeg subprocess performs the
// capture and streams raw RGBA frames back over its stdout pipe. Used when
// neither in-process stack can open the device.
type Bridge struct {
	binary string

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	wg     sync.WaitGroup

	width, height int
	frameSize     int
	deviceID      string
	fpsArg        string

	stopped    atomic.Bool
	frameCount atomic.Uint64
}

// NewBridge creates a bridge strategy driving the given ffmpeg binary
// ("ffmpeg" resolves via PATH).
func NewBridge(binary string) *Bridge {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Bridge{binary: binary}
}

func (b *Bridge) Name() string { return "bridge" }

// Initialize verifies the bridge binary exists and records the negotiated
// geometry. The subprocess itself launches in Start, so a failed probe here
// never touches the device.
func (b *Bridge) Initialize(src media.Source, format media.Format) error {
	if _, err := exec.LookPath(b.binary); err != nil {
		return fmt.Errorf("strategy: bridge binary not found: %w", err)
	}

	fps := format.FPS()
	if fps <= 0 {
		fps = 30
	}

	b.mu.Lock()
	b.deviceID = src.ID
	b.width = format.Width
	b.height = format.Height
	b.frameSize = format.Width * format.Height * 4
	b.fpsArg = fmt.Sprintf("%g", fps)
	b.mu.Unlock()
	return nil
}

// Start launches the subprocess and the frame reader.
func (b *Bridge) Start(ctx context.Context, emit EmitFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSize == 0 {
		return fmt.Errorf("strategy: bridge not initialized")
	}
	b.stopped.Store(false)

	procCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(procCtx, b.binary,
		"-nostdin",
		"-loglevel", "error",
		"-f", "v4l2",
		"-framerate", b.fpsArg,
		"-video_size", fmt.Sprintf("%dx%d", b.width, b.height),
		"-i", b.deviceID,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("strategy: bridge stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("strategy: start bridge process: %w", err)
	}

	b.cmd = cmd
	b.cancel = cancel

	b.wg.Add(1)
	go b.readFrames(procCtx, stdout, emit)

	slog.Info("strategy: bridge capture started",
		"binary", b.binary,
		"device", b.deviceID,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// readFrames slices the raw byte stream into fixed-size frames.
func (b *Bridge) readFrames(ctx context.Context, r io.Reader, emit EmitFunc) {
	defer b.wg.Done()

	for {
		f := media.Alloc(media.FormatRGBA, b.width, b.height, b.width*4, b.frameSize)
		if _, err := io.ReadFull(r, f.Data); err != nil {
			f.Release()
			if ctx.Err() == nil && !b.stopped.Load() {
				slog.Error("strategy: bridge stream ended", "error", err)
			}
			return
		}

		f.Timestamp = time.Now()
		f.TraceID = uuid.New().String()
		b.frameCount.Add(1)

		if b.stopped.Load() || ctx.Err() != nil {
			f.Release()
			return
		}
		emit(f)
	}
}

// Stop kills the subprocess and waits for the reader to drain.
func (b *Bridge) Stop() {
	if b.stopped.Swap(true) {
		return
	}

	b.mu.Lock()
	cancel, cmd := b.cancel, b.cmd
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	if cmd != nil {
		// Exit status is uninteresting: the process dies by our cancel.
		_ = cmd.Wait()
	}

	slog.Info("strategy: bridge capture stopped",
		"device", b.deviceID,
		"frames", b.frameCount.Load(),
	)
}

// Close releases the subprocess handle.
func (b *Bridge) Close() {
	b.Stop()
	b.mu.Lock()
	b.cmd = nil
	b.cancel = nil
	b.mu.Unlock()
}
