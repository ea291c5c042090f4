package analyser

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/config"
	"github.com/saviobatista/adsb-analyser/internal/parser"
	"github.com/saviobatista/adsb-analyser/internal/registry"
	"github.com/saviobatista/adsb-analyser/internal/snapshot"
	"github.com/saviobatista/adsb-analyser/internal/stats"
	"github.com/saviobatista/adsb-analyser/internal/types"
	"github.com/saviobatista/adsb-analyser/internal/voxel"
)

// Sink is the outbound message bus, reduced to a single publish call.
type Sink interface {
	Publish(payload []byte) error
}

// Mirror republishes raw feed lines to a side channel.
type Mirror interface {
	PublishRaw(line, source string, ts time.Time) error
}

// Engine bundles the registry, grid, counters and sinks behind the hot path.
// It is driven by the ingestion loop; there is no global state.
type Engine struct {
	cfg *config.Config

	Registry  *registry.Registry
	Grid      *voxel.Grid
	Stats     *stats.Stats
	Snapshots *snapshot.Manager

	sink   Sink
	mirror Mirror

	// lastPublish is only touched on the ingestion goroutine.
	lastPublish time.Time
}

// New builds an engine from the configuration.
func New(cfg *config.Config) (*Engine, error) {
	reg, err := registry.New(cfg.RegistryCapacity, registry.Limits{
		ReferenceLat:  cfg.PositionLat,
		ReferenceLon:  cfg.PositionLon,
		MaxDistanceNM: cfg.DistanceMaxNM,
		MaxAltitudeFt: cfg.AltitudeMaxFt,
		MinAltitudeFt: cfg.AltitudeMinFt,
	})
	if err != nil {
		return nil, err
	}

	grid, err := voxel.New(voxel.Config{
		OriginLat:     cfg.PositionLat,
		OriginLon:     cfg.PositionLon,
		MaxDistanceNM: cfg.DistanceMaxNM,
		MaxAltitudeFt: cfg.AltitudeMaxFt,
		CellNM:        cfg.VoxelCellNM,
		CellFt:        cfg.VoxelCellFt,
	})
	if err != nil {
		return nil, err
	}

	st := stats.New()
	return &Engine{
		cfg:         cfg,
		Registry:    reg,
		Grid:        grid,
		Stats:       st,
		Snapshots:   snapshot.New(cfg.StorageDir, grid, st),
		lastPublish: time.Now(),
	}, nil
}

// SetSink installs the outbound bus client.
func (e *Engine) SetSink(s Sink) {
	e.sink = s
}

// SetMirror installs the optional raw feed mirror.
func (e *Engine) SetMirror(m Mirror) {
	e.mirror = m
}

// ProcessLine handles one complete feed line: counters and mirror first, then
// the parse, the registry and grid updates, and finally the publish-interval
// check. Publish latency is therefore bounded by line arrival rate.
func (e *Engine) ProcessLine(line string, now time.Time) {
	if strings.HasPrefix(line, "MSG") {
		e.Stats.IncMessagesTotal()
		if e.mirror != nil {
			if err := e.mirror.PublishRaw(line, e.cfg.FeedSource, now); err != nil {
				e.Stats.IncMirrorErrors()
				log.Printf("nats: mirror publish failed: %v", err)
			}
		}
	}

	if report, ok := parser.Parse(line, now); ok {
		if e.cfg.Debug {
			log.Printf("debug: position line: %s", line)
		}
		e.Stats.IncMessagesPosition()
		e.applyReport(report)
	}

	if now.Sub(e.lastPublish) >= e.cfg.PublishInterval {
		e.Publish(now)
		e.lastPublish = now
	}
}

// applyReport feeds one parsed report to the registry and then the grid.
func (e *Engine) applyReport(report *types.PositionReport) {
	sample, created, err := e.Registry.Update(
		report.Address, report.Latitude, report.Longitude, report.AltitudeFt, report.Timestamp)
	switch {
	case errors.Is(err, registry.ErrPositionInvalid):
		e.Stats.IncPositionInvalid()
		if e.cfg.Debug {
			log.Printf("debug: invalid position icao=%s, lat=%.6f, lon=%.6f, alt=%d",
				report.Address, report.Latitude, report.Longitude, report.AltitudeFt)
		}
		return
	case errors.Is(err, registry.ErrTableFull):
		log.Printf("registry: table full, dropping update for %s", report.Address)
		return
	case err != nil:
		log.Printf("registry: update for %s failed: %v", report.Address, err)
		return
	}

	e.Stats.IncPositionValid()
	if created {
		e.Stats.IncAircraftSeen()
	}
	e.Stats.ObservePosition(report.Address, sample)
	e.Grid.Update(report.Latitude, report.Longitude, report.AltitudeFt)
}

// Publish emits one batch of every aircraft updated since its last
// acknowledged publish. No pending aircraft means no bus call. The batch is
// acknowledged as a whole: only a successful handoff stamps the included
// aircraft, so a failed one is retried on the next tick.
func (e *Engine) Publish(now time.Time) {
	if e.sink == nil {
		return
	}
	pending := e.Registry.Pending()
	if len(pending) == 0 {
		return
	}

	msg := types.BusMessage{
		Timestamp:   now.Unix(),
		PositionLat: e.cfg.PositionLat,
		PositionLon: e.cfg.PositionLon,
		Aircraft:    make([]types.BusAircraft, 0, len(pending)),
	}
	addresses := make([]string, 0, len(pending))
	for _, p := range pending {
		msg.Aircraft = append(msg.Aircraft, types.BusAircraft{
			ICAO:    p.Address,
			Current: p.Current.Bus(),
			First:   p.FirstSeen.Bus(),
			Bounds: types.BusBounds{
				MinLat:  p.Bounds.MinLat.Bus(),
				MaxLat:  p.Bounds.MaxLat.Bus(),
				MinLon:  p.Bounds.MinLon.Bus(),
				MaxLon:  p.Bounds.MaxLon.Bus(),
				MinAlt:  p.Bounds.MinAlt.Bus(),
				MaxAlt:  p.Bounds.MaxAlt.Bus(),
				MinDist: p.Bounds.MinDist.Bus(),
				MaxDist: p.Bounds.MaxDist.Bus(),
			},
		})
		addresses = append(addresses, p.Address)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("bus: failed to marshal batch: %v", err)
		return
	}
	if err := e.sink.Publish(payload); err != nil {
		log.Printf("bus: publish of %d aircraft failed: %v", len(addresses), err)
		return
	}

	e.Registry.MarkPublished(addresses, now)
	e.Stats.AddPublished(uint64(len(addresses)))
	if e.cfg.Debug {
		log.Printf("debug: published %d aircraft", len(addresses))
	}
}

// Status logs the one-line summary plus the window extremes, then resets the
// window.
func (e *Engine) Status() {
	log.Print(e.Stats.StatusLine(e.Registry.Count(), e.Grid.Occupancy()))
	if line := e.Stats.WindowLine(); line != "" {
		log.Print(line)
	}
	e.Stats.ResetWindow()
}
