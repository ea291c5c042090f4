package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/stats"
	"github.com/saviobatista/adsb-analyser/internal/voxel"
)

const (
	// VoxelFile is the binary voxel grid snapshot inside the storage dir.
	VoxelFile = "voxel.dat"
	// StatsFile is the JSON cumulative statistics snapshot.
	StatsFile = "stats.json"
)

// Manager periodically persists the voxel grid and the cumulative statistics
// to the storage directory. It owns no state of its own; it only reads the
// grid and stats under their respective concurrency rules.
type Manager struct {
	dir   string
	grid  *voxel.Grid
	stats *stats.Stats
}

// New creates a snapshot manager rooted at dir.
func New(dir string, grid *voxel.Grid, st *stats.Stats) *Manager {
	return &Manager{dir: dir, grid: grid, stats: st}
}

// VoxelPath returns the voxel snapshot path.
func (m *Manager) VoxelPath() string {
	return filepath.Join(m.dir, VoxelFile)
}

// StatsPath returns the stats snapshot path.
func (m *Manager) StatsPath() string {
	return filepath.Join(m.dir, StatsFile)
}

// Save writes both artifacts. A failure in one does not block the other;
// both errors are reported. Each file is written to a temp file and renamed
// into place so a crash mid-write leaves the previous snapshot intact.
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}

	var voxelErr, statsErr error
	if err := writeAtomic(m.VoxelPath(), m.grid.Save); err != nil {
		voxelErr = fmt.Errorf("voxel snapshot: %w", err)
	}
	if err := writeAtomic(m.StatsPath(), m.writeStats); err != nil {
		statsErr = fmt.Errorf("stats snapshot: %w", err)
	}
	return errors.Join(voxelErr, statsErr)
}

func (m *Manager) writeStats(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m.stats.Snapshot())
}

// Load restores both artifacts at startup. Any voxel mismatch (missing file,
// bad magic, wrong version or dimensions) leaves the grid empty; a missing
// stats file is not an error. Both outcomes are logged, neither is fatal.
func (m *Manager) Load() {
	if err := m.loadVoxel(); err != nil {
		log.Printf("snapshot: voxel grid starts empty: %v", err)
	} else {
		log.Printf("snapshot: voxel grid restored from %s", m.VoxelPath())
	}
	if err := m.loadStats(); err != nil {
		log.Printf("snapshot: stats start fresh: %v", err)
	} else {
		log.Printf("snapshot: stats restored from %s", m.StatsPath())
	}
}

func (m *Manager) loadVoxel() error {
	f, err := os.Open(m.VoxelPath())
	if err != nil {
		return err
	}
	defer f.Close()
	return m.grid.Load(f)
}

func (m *Manager) loadStats() error {
	data, err := os.ReadFile(m.StatsPath())
	if err != nil {
		return err
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode stats snapshot: %w", err)
	}
	m.stats.Merge(snap)
	return nil
}

// Run owns the save timer until the context ends. The final save after
// shutdown is the caller's responsibility, once the ingestion loop has
// drained.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Save(); err != nil {
				log.Printf("snapshot: save failed: %v", err)
			}
		}
	}
}

// writeAtomic writes through a temp file in the target directory and renames
// it over the destination.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
