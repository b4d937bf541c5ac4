package watermark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileStore persists all watermarks as a single JSON document, written via
// a temp-file-then-rename so a crash mid-write can never leave a partially
// written document behind.
type fileStore struct {
	path string
}

func (s *fileStore) Load(ctx context.Context) (map[string]string, error) {
	contents, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading watermark file %s: %w", s.path, err)
	}

	var watermarks map[string]string
	if err := json.Unmarshal(contents, &watermarks); err != nil {
		return nil, fmt.Errorf("parsing watermark file %s: %w", s.path, err)
	}
	if watermarks == nil {
		watermarks = map[string]string{}
	}
	return watermarks, nil
}

func (s *fileStore) Save(ctx context.Context, watermarks map[string]string) error {
	contents, err := json.MarshalIndent(watermarks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding watermarks: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".watermark-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp watermark file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp watermark file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp watermark file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp watermark file to %s: %w", s.path, err)
	}
	return nil
}
