package image_list

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var extensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Scanner produces the ordered list of image locations for a browsing
// session. The canonical path of each file is its cache key.
type Scanner struct {
	dataDir string
	logger  *zap.Logger

	mu        sync.RWMutex
	locations []string
}

func New(dataDir string, logger *zap.Logger) *Scanner {
	return &Scanner{
		dataDir: dataDir,
		logger:  logger,
	}
}

// Scan rebuilds the location list from the data directory, sorted by file
// name so the browsing order is stable across scans.
func (s *Scanner) Scan() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	locations := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !extensions[ext] {
			continue
		}

		locations = append(locations, filepath.Join(s.dataDir, entry.Name()))
	}
	sort.Strings(locations)

	s.mu.Lock()
	s.locations = locations
	s.mu.Unlock()

	s.logger.Info("Scanned data directory",
		zap.String("data_dir", s.dataDir),
		zap.Int("images", len(locations)),
	)

	return nil
}

// Locations returns the ordered image paths from the last scan.
func (s *Scanner) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.locations))
	copy(out, s.locations)
	return out
}

func (s *Scanner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.locations)
}
