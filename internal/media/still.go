package media

import (
	"bytes"
	"fmt"
	"image/png"
	"strconv"
	"time"

	"github.com/smazurov/markcam/internal/metrics"
)

// Artifact is a captured still or a finished recording held in memory.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
	Duration    time.Duration // recordings only
	AutoStopped bool          // ended by the recording limit
}

// ArtifactName returns markcam-<unix-ms>.<ext>.
func ArtifactName(t time.Time, ext string) string {
	return "markcam-" + strconv.FormatInt(t.UnixMilli(), 10) + "." + ext
}

// Capture encodes the current composited frame as PNG.
func Capture(c *Compositor) (*Artifact, error) {
	img, _, err := c.Snapshot()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	now := time.Now()
	metrics.IncCaptures()
	return &Artifact{
		Name:        ArtifactName(now, "png"),
		ContentType: "image/png",
		Data:        buf.Bytes(),
		CreatedAt:   now,
	}, nil
}
