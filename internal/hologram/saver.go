package hologram

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileSaver persists holograms as a YAML document on disk. Writes go through
// a temp file and rename so a crash never leaves a torn file behind.
type FileSaver struct {
	path string
}

// NewFileSaver builds a saver for path, creating parent directories.
func NewFileSaver(path string) (*FileSaver, error) {
	if path == "" {
		return nil, fmt.Errorf("saver path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create hologram dir: %w", err)
		}
	}
	return &FileSaver{path: path}, nil
}

type fileDoc struct {
	Holograms []*Hologram `yaml:"holograms"`
}

// Save writes the full hologram set.
func (s *FileSaver) Save(holograms []*Hologram) error {
	raw, err := yaml.Marshal(fileDoc{Holograms: holograms})
	if err != nil {
		return fmt.Errorf("encode holograms: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write holograms: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace hologram file: %w", err)
	}
	return nil
}

// Load reads the saved set. A missing file is an empty set.
func (s *FileSaver) Load() ([]*Hologram, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read holograms: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode holograms: %w", err)
	}
	return doc.Holograms, nil
}

var _ Saver = (*FileSaver)(nil)
