package voxel

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/saviobatista/adsb-analyser/internal/geo"
)

const (
	fileMagic   uint32 = 0x41445856 // "ADXV"
	fileVersion uint32 = 1

	counterMax uint16 = math.MaxUint16

	// Tolerance for the origin and limit fields when matching a snapshot
	// header against the configured grid.
	headerTolerance = 1e-6
)

// Config fixes the grid geometry for the process lifetime.
type Config struct {
	OriginLat     float64
	OriginLon     float64
	MaxDistanceNM float64
	MaxAltitudeFt float64
	CellNM        float64
	CellFt        float64
}

// Grid is a 3D lattice of saturating visit counters over a bearing-projected
// local frame centered at the origin. It is independent of aircraft identity.
//
// The grid has exactly one writer (the ingestion path); readers may observe
// slightly stale or torn individual counters, which is acceptable for a
// coverage heat-map.
type Grid struct {
	cfg                 Config
	sizeX, sizeY, sizeZ int
	cells               []uint16
}

// header is the fixed binary snapshot preamble, little-endian on disk.
type header struct {
	Magic         uint32
	Version       uint32
	SizeX         int32
	SizeY         int32
	SizeZ         int32
	OriginLat     float64
	OriginLon     float64
	MaxDistanceNM float64
	MaxAltitudeFt float64
}

// New allocates an empty grid sized from the configured maximum range and
// altitude and the cell dimensions.
func New(cfg Config) (*Grid, error) {
	if cfg.CellNM <= 0 || cfg.CellFt <= 0 {
		return nil, fmt.Errorf("voxel cell sizes must be positive, got %.2fnm x %.2fft", cfg.CellNM, cfg.CellFt)
	}
	if cfg.MaxDistanceNM <= 0 || cfg.MaxAltitudeFt <= 0 {
		return nil, fmt.Errorf("voxel limits must be positive, got %.2fnm x %.2fft", cfg.MaxDistanceNM, cfg.MaxAltitudeFt)
	}

	sizeX := int(math.Ceil(2 * cfg.MaxDistanceNM / cfg.CellNM))
	sizeZ := int(math.Ceil(cfg.MaxAltitudeFt / cfg.CellFt))
	if sizeX < 1 {
		sizeX = 1
	}
	if sizeZ < 1 {
		sizeZ = 1
	}

	return &Grid{
		cfg:   cfg,
		sizeX: sizeX,
		sizeY: sizeX,
		sizeZ: sizeZ,
		cells: make([]uint16, sizeX*sizeX*sizeZ),
	}, nil
}

// Dims returns the grid dimensions.
func (g *Grid) Dims() (x, y, z int) {
	return g.sizeX, g.sizeY, g.sizeZ
}

// At returns the counter of one cell.
func (g *Grid) At(x, y, z int) uint16 {
	return g.cells[g.index(x, y, z)]
}

func (g *Grid) index(x, y, z int) int {
	return (z*g.sizeY+y)*g.sizeX + x
}

// Update increments the cell owning the given position, saturating at the
// counter maximum. Out-of-range positions land on the boundary cell rather
// than being dropped.
func (g *Grid) Update(lat, lon float64, altFt int) {
	i := g.index(g.Cell(lat, lon, altFt))
	if g.cells[i] < counterMax {
		g.cells[i]++
	}
}

// Cell returns the cell indices a position maps to, after clamping.
func (g *Grid) Cell(lat, lon float64, altFt int) (x, y, z int) {
	dx, dy := geo.Project(g.cfg.OriginLat, g.cfg.OriginLon, lat, lon)
	x = clamp(int(math.Floor(dx/g.cfg.CellNM))+g.sizeX/2, 0, g.sizeX-1)
	y = clamp(int(math.Floor(dy/g.cfg.CellNM))+g.sizeY/2, 0, g.sizeY-1)
	z = clamp(int(math.Floor(float64(altFt)/g.cfg.CellFt)), 0, g.sizeZ-1)
	return x, y, z
}

// Occupancy returns the fraction of cells with at least one visit. Full linear
// scan; status reporting only, never on the hot path.
func (g *Grid) Occupancy() float64 {
	if len(g.cells) == 0 {
		return 0
	}
	occupied := 0
	for _, c := range g.cells {
		if c > 0 {
			occupied++
		}
	}
	return float64(occupied) / float64(len(g.cells))
}

// Save writes the snapshot header and the counter array in row-major (z,y,x)
// order.
func (g *Grid) Save(w io.Writer) error {
	h := header{
		Magic:         fileMagic,
		Version:       fileVersion,
		SizeX:         int32(g.sizeX),
		SizeY:         int32(g.sizeY),
		SizeZ:         int32(g.sizeZ),
		OriginLat:     g.cfg.OriginLat,
		OriginLon:     g.cfg.OriginLon,
		MaxDistanceNM: g.cfg.MaxDistanceNM,
		MaxAltitudeFt: g.cfg.MaxAltitudeFt,
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("failed to write voxel header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, g.cells); err != nil {
		return fmt.Errorf("failed to write voxel counters: %w", err)
	}
	return nil
}

// Load replaces the grid contents from a snapshot. A snapshot whose header
// does not match the configured geometry is rejected wholesale and the grid
// is left untouched.
func (g *Grid) Load(r io.Reader) error {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to read voxel header: %w", err)
	}
	if h.Magic != fileMagic {
		return fmt.Errorf("bad voxel magic 0x%08x", h.Magic)
	}
	if h.Version != fileVersion {
		return fmt.Errorf("unsupported voxel version %d", h.Version)
	}
	if int(h.SizeX) != g.sizeX || int(h.SizeY) != g.sizeY || int(h.SizeZ) != g.sizeZ {
		return fmt.Errorf("voxel dimensions %dx%dx%d do not match configured %dx%dx%d",
			h.SizeX, h.SizeY, h.SizeZ, g.sizeX, g.sizeY, g.sizeZ)
	}
	if math.Abs(h.OriginLat-g.cfg.OriginLat) > headerTolerance ||
		math.Abs(h.OriginLon-g.cfg.OriginLon) > headerTolerance {
		return fmt.Errorf("voxel origin %.6f,%.6f does not match configured %.6f,%.6f",
			h.OriginLat, h.OriginLon, g.cfg.OriginLat, g.cfg.OriginLon)
	}
	if math.Abs(h.MaxDistanceNM-g.cfg.MaxDistanceNM) > headerTolerance ||
		math.Abs(h.MaxAltitudeFt-g.cfg.MaxAltitudeFt) > headerTolerance {
		return fmt.Errorf("voxel limits %.1fnm/%.1fft do not match configured %.1fnm/%.1fft",
			h.MaxDistanceNM, h.MaxAltitudeFt, g.cfg.MaxDistanceNM, g.cfg.MaxAltitudeFt)
	}

	cells := make([]uint16, g.sizeX*g.sizeY*g.sizeZ)
	if err := binary.Read(r, binary.LittleEndian, cells); err != nil {
		return fmt.Errorf("failed to read voxel counters: %w", err)
	}
	g.cells = cells
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
