package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/smartbox-capture/capture"
	"github.com/e7canasta/smartbox-capture/internal/emitter"
	"github.com/e7canasta/smartbox-capture/media"
)

const (
	previewQuality  = 80
	snapshotQuality = 95
)

// newPreviewServer serves the live MJPEG preview, single-shot snapshots and
// health/stats endpoints for the running session.
func newPreviewServer(addr string, session *capture.Session, em *emitter.Emitter) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/preview.mjpeg", handlePreview(session))
	mux.HandleFunc("/snapshot.jpg", handleSnapshot(session))
	mux.HandleFunc("/healthz", handleHealth(session, em))
	mux.HandleFunc("/stats", handleStats(session))

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

// handlePreview streams the live feed as multipart MJPEG. Each browser tab
// is its own hub subscription, so a stalled tab only drops its own frames.
func handlePreview(session *capture.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := fmt.Sprintf("preview-%s-%d", r.RemoteAddr, time.Now().UnixNano())
		sub, err := session.Subscribe(id)
		if err != nil {
			http.Error(w, "capture not running", http.StatusServiceUnavailable)
			return
		}
		defer session.Unsubscribe(id)

		const boundary = "smartboxframe"
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		slog.Debug("preview: client connected", "client", r.RemoteAddr)
		defer slog.Debug("preview: client disconnected", "client", r.RemoteAddr)

		for {
			f, err := sub.Next(r.Context())
			if err != nil {
				return
			}
			data, err := encodeJPEG(f, previewQuality)
			f.Release()
			if err != nil {
				slog.Warn("preview: encode failed", "error", err)
				continue
			}

			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// handleSnapshot is the photo button: it resolves with the next delivered
// frame or times out.
func handleSnapshot(session *capture.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := session.CaptureSingleFrame(r.Context(), 0)
		if err != nil {
			if err == capture.ErrCaptureTimeout {
				http.Error(w, "no frame within timeout", http.StatusGatewayTimeout)
				return
			}
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer f.Release()

		data, err := encodeJPEG(f, snapshotQuality)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Write(data)
	}
}

type healthResponse struct {
	Status        string  `json:"status"` // healthy, degraded, unhealthy
	State         string  `json:"state"`
	Variant       string  `json:"variant,omitempty"`
	Device        string  `json:"device,omitempty"`
	CurrentFPS    float64 `json:"current_fps"`
	DroppedFrames uint64  `json:"dropped_frames"`
	MQTTConnected bool    `json:"mqtt_connected"`
	Error         string  `json:"error,omitempty"`
}

func handleHealth(session *capture.Session, em *emitter.Emitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := session.Status()
		metrics := session.Metrics()

		resp := healthResponse{
			State:         st.State.String(),
			Variant:       st.Variant,
			Device:        st.Device,
			CurrentFPS:    metrics.CurrentFPS,
			DroppedFrames: metrics.DroppedFrames,
		}
		if em != nil {
			resp.MQTTConnected = em.Stats().Connected
		}
		if st.Err != nil {
			resp.Error = st.Err.Error()
		}

		switch st.State {
		case capture.StateStreaming:
			resp.Status = "healthy"
			if metrics.CurrentFPS == 0 {
				resp.Status = "degraded"
			}
		case capture.StateFailed:
			resp.Status = "unhealthy"
		default:
			resp.Status = "degraded"
		}

		code := http.StatusOK
		if resp.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}

func handleStats(session *capture.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := session.Metrics()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"current_fps":    metrics.CurrentFPS,
			"dropped_frames": metrics.DroppedFrames,
			"last_frame_at":  metrics.LastFrameAt,
		})
	}
}

// encodeJPEG renders an RGBA frame as JPEG.
func encodeJPEG(f *media.Frame, quality int) ([]byte, error) {
	if f.Pixel != media.FormatRGBA {
		return nil, fmt.Errorf("preview: unexpected pixel format %s", f.Pixel)
	}
	img := &image.RGBA{
		Pix:    f.Data,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
