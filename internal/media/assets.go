package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/markcam/internal/version"
)

const (
	defaultAssetConcurrency = 4
	defaultAssetTimeout     = 15 * time.Second
	maxAssetSize            = 16 << 20
)

// AssetLoader resolves watermark marks before compositing: image marks get
// their bitmap decoded, text marks get their font size coerced to pixels.
type AssetLoader struct {
	Client      *http.Client
	Concurrency int
	Logger      *slog.Logger
}

// NewAssetLoader returns a loader with an http client bounded by a request timeout.
func NewAssetLoader(logger *slog.Logger) *AssetLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetLoader{
		Client:      &http.Client{Timeout: defaultAssetTimeout},
		Concurrency: defaultAssetConcurrency,
		Logger:      logger,
	}
}

// Load resolves every mark in place. A font size that cannot be coerced or a
// cancelled context aborts loading. Image failures are not fatal: the bitmap
// stays nil, the mark is skipped when painting, and the failure is returned in
// the assetErrs list.
func (l *AssetLoader) Load(ctx context.Context, wms []Watermark) (assetErrs []error, err error) {
	for i := range wms {
		tm, ok := wms[i].Mark.(*TextMark)
		if !ok {
			continue
		}
		px, err := ParseFontSize(tm.FontSize)
		if err != nil {
			return nil, fmt.Errorf("watermark[%d]: %w", i, err)
		}
		tm.SizePx = px
	}

	limit := l.Concurrency
	if limit <= 0 {
		limit = defaultAssetConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]error, len(wms))
	for i := range wms {
		im, ok := wms[i].Mark.(*ImageMark)
		if !ok || im.Bitmap != nil {
			continue
		}
		g.Go(func() error {
			img, err := l.fetch(gctx, im.URL)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				results[i] = NewWatermarkAssetError(im.URL, err)
				return nil
			}
			im.Bitmap = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, e := range results {
		if e != nil {
			l.logger().Warn("Watermark image failed to load", "error", e)
			assetErrs = append(assetErrs, e)
		}
	}
	return assetErrs, nil
}

func (l *AssetLoader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *AssetLoader) fetch(ctx context.Context, ref string) (image.Image, error) {
	data, err := l.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	l.logger().Debug("Watermark image loaded", "url", ref, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return img, nil
}

func (l *AssetLoader) read(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.download(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parse file url: %w", err)
		}
		return readFile(u.Path)
	case ref == "":
		return nil, errors.New("empty image url")
	default:
		return readFile(ref)
	}
}

func (l *AssetLoader) download(ctx context.Context, ref string) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return readLimited(resp.Body)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return readLimited(f)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("image exceeds %d bytes", maxAssetSize)
	}
	return data, nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>.
func decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return []byte(data), nil
}
