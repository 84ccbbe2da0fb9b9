package streaming

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
)

// MJPEGHandler serves the published stream as multipart/x-mixed-replace
// JPEG frames, viewable in any browser image tag.
type MJPEGHandler struct {
	source  StreamSource
	quality int
	logger  *slog.Logger
}

// NewMJPEGHandler creates an MJPEG preview handler. quality outside 1..100
// selects the JPEG default.
func NewMJPEGHandler(source StreamSource, quality int, logger *slog.Logger) *MJPEGHandler {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MJPEGHandler{source: source, quality: quality, logger: logger}
}

func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := h.source.Stream()
	if stream == nil || len(stream.VideoTracks()) == 0 {
		http.Error(w, ErrStreamNotFound.Error(), http.StatusServiceUnavailable)
		return
	}
	frames, cancel := stream.VideoTracks()[0].Subscribe(1)
	defer cancel()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	AddMJPEGClient(1)
	defer AddMJPEGClient(-1)
	h.logger.Debug("MJPEG client connected", "remote", r.RemoteAddr)

	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("MJPEG client disconnected", "remote", r.RemoteAddr)
			return
		case sample, ok := <-frames:
			if !ok {
				// Stream ended; close the multipart body cleanly.
				_ = mw.Close()
				return
			}
			if sample.Image == nil {
				continue
			}
			buf.Reset()
			if err := jpeg.Encode(&buf, sample.Image, &jpeg.Options{Quality: h.quality}); err != nil {
				h.logger.Warn("JPEG encode failed", "error", err)
				continue
			}
			if err := writePart(mw, buf.Bytes()); err != nil {
				return
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return
			}
			IncrementMJPEGFrames()
		}
	}
}

func writePart(mw *multipart.Writer, frame []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(frame)))
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to write part header: %w", err)
	}
	_, err = part.Write(frame)
	return err
}
