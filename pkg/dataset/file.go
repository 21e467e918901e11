package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// ErrUnsupportedFormat is returned for file extensions other than yaml, yml and json
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// fileData is the on-disk layout of a dataset file
type fileData struct {
	Records []models.Record `json:"records" yaml:"records"`
}

// LoadFile reads records from a YAML or JSON file and validates them
func LoadFile(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var fd fileData
	switch ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fd)
	case ".json":
		err = json.Unmarshal(data, &fd)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %w", path, err)
	}

	seen := make(map[int64]struct{}, len(fd.Records))
	for i, r := range fd.Records {
		if err := r.Location.Validate(); err != nil {
			return nil, fmt.Errorf("record %d (id %d): %w", i, r.ID, err)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("record %d: duplicate id %d", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	return fd.Records, nil
}

// SaveFile writes records as YAML or JSON depending on the extension
func SaveFile(path string, records []models.Record) error {
	fd := fileData{Records: records}

	var (
		data []byte
		err  error
	)
	switch ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(fd)
	case ".json":
		data, err = json.MarshalIndent(fd, "", "  ")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return nil
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
