package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/markcam/internal/media"
)

// CameraFile is the decoded camera options file. Keys use the same names as
// the JSON options accepted over the API, for example:
//
//	facingMode = "user"
//	isAudio = true
//	recordLimit = "2m"
//
//	[[watermark]]
//	x = 10
//	y = 10
//	text = { text = "markcam", fontSize = "1.5rem", color = "#ffffffcc" }
type CameraFile map[string]any

// ReadCameraFile decodes the camera options file. A missing file yields an
// empty set of options.
func ReadCameraFile(path string) (CameraFile, error) {
	if path == "" {
		return CameraFile{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return CameraFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read camera config: %w", err)
	}

	var opts CameraFile
	if err := toml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse camera config: %w", err)
	}
	if opts == nil {
		opts = CameraFile{}
	}
	return opts, nil
}

// LoadCamera reads path and resolves its options over defaults.
func LoadCamera(path string, defaults media.Config) (media.Config, error) {
	opts, err := ReadCameraFile(path)
	if err != nil {
		return media.Config{}, err
	}
	cfg, err := media.Resolve(defaults, opts)
	if err != nil {
		return media.Config{}, fmt.Errorf("camera config %s: %w", path, err)
	}
	return cfg, nil
}
