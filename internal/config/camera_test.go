package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/markcam/internal/media"
)

func TestLoadCamera(t *testing.T) {
	path := writeFile(t, "camera.toml", `
facingMode = "user"
isAudio = true
recordLimit = "45s"
frameRate = 24.5

[audio]
echoCancellation = false

[watermark]
text = "legacy"
image = "logo.png"
position = "bottom-left"
margin = 6
`)

	cfg, err := LoadCamera(path, media.DefaultConfig())
	if err != nil {
		t.Fatalf("LoadCamera() error = %v", err)
	}
	if cfg.FacingMode != media.FacingUser || !cfg.Audio || cfg.FrameRate != 24.5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AudioOpts.EchoCancellation || !cfg.AudioOpts.NoiseSuppression {
		t.Errorf("AudioOpts = %+v", cfg.AudioOpts)
	}
	if cfg.RecordLimit != 45*time.Second {
		t.Errorf("RecordLimit = %v, want 45s", cfg.RecordLimit)
	}
	if len(cfg.Watermarks) != 2 {
		t.Fatalf("Watermarks = %d, want text and image", len(cfg.Watermarks))
	}
	for _, wm := range cfg.Watermarks {
		if wm.Anchor != media.AnchorBottomLeft || wm.Margin != 6 {
			t.Errorf("watermark = %+v", wm)
		}
	}
}

func TestLoadCameraMissingFile(t *testing.T) {
	cfg, err := LoadCamera(filepath.Join(t.TempDir(), "none.toml"), media.DefaultConfig())
	if err != nil {
		t.Fatalf("LoadCamera() error = %v", err)
	}
	if cfg.FacingMode != media.FacingEnvironment || len(cfg.Watermarks) != 0 {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadCameraInvalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantMedia bool
	}{
		{"bad toml", "facingMode = ", false},
		{"bad option", "frameRate = -1\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "camera.toml", tt.content)
			_, err := LoadCamera(path, media.DefaultConfig())
			if err == nil {
				t.Fatal("LoadCamera() error = nil")
			}
			if got := errors.Is(err, media.ErrConfig); got != tt.wantMedia {
				t.Errorf("errors.Is(err, ErrConfig) = %v, want %v (%v)", got, tt.wantMedia, err)
			}
		})
	}
}

// writeCameraFile encodes opts and replaces path through a rename, the way
// editors and config management tools save files.
func writeCameraFile(t *testing.T, path string, opts CameraFile) {
	t.Helper()
	data, err := toml.Marshal(map[string]any(opts))
	if err != nil {
		t.Fatal(err)
	}
	tmp := filepath.Join(filepath.Dir(path), ".camera.toml.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestCameraFileArrayOfTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.toml")
	writeCameraFile(t, path, CameraFile{
		"isMirror":  true,
		"watermark": []any{map[string]any{"text": map[string]any{"text": "saved"}}},
	})

	cfg, err := LoadCamera(path, media.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Mirror || len(cfg.Watermarks) != 1 {
		t.Errorf("cfg = %+v", cfg)
	}
}
