package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrCatalogueNotFound is returned when a target catalogue file is missing.
	ErrCatalogueNotFound = errors.New("session: catalogue not found")
	// ErrCatalogueEmpty is returned when a catalogue has no non-blank lines.
	ErrCatalogueEmpty = errors.New("session: catalogue is empty")
)

// CataloguePath returns the file holding catalogue fileNumber in dir.
func CataloguePath(dir, fileNumber string) string {
	return filepath.Join(dir, "np"+fileNumber+".txt")
}

// LoadCatalogue reads catalogue fileNumber from dir, dropping blank lines.
// fileNumber must be a non-negative integer.
func LoadCatalogue(dir, fileNumber string) ([]string, error) {
	if n, err := strconv.Atoi(fileNumber); err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid file number %q", ErrCatalogueNotFound, fileNumber)
	}
	path := CataloguePath(dir, fileNumber)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCatalogueNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCatalogueEmpty, path)
	}
	return lines, nil
}
