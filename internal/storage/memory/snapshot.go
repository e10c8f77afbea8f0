package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rescuenet/dispatch/pkg/core"
)

const snapshotName = "rescue_dispatch_snapshot"

// Snapshot is the on-disk form of the in-memory state
type Snapshot struct {
	Version       int                 `json:"version"`
	RescuePoints  []core.RescuePoint  `json:"rescuePoints"`
	Sources       []core.RescueSource `json:"sources"`
	Teams         []core.Team         `json:"teams"`
	Missions      []core.Mission      `json:"missions"`
	Notifications []core.Notification `json:"notifications"`
	Drones        []core.Drone        `json:"drones"`
	Gateways      []core.Gateway      `json:"gateways"`
}

// SnapshotPath returns where the snapshot is written for the configured output directory.
func (b *Backend) SnapshotPath() string {
	name := snapshotName + ".json"
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, name)
}

func (b *Backend) buildSnapshot() Snapshot {
	s := b.st
	snap := Snapshot{Version: 1}
	for _, p := range s.points {
		snap.RescuePoints = append(snap.RescuePoints, p)
		snap.Sources = append(snap.Sources, s.sources[p.ID]...)
	}
	for _, id := range s.teamOrder {
		snap.Teams = append(snap.Teams, s.teams[id])
	}
	for _, id := range s.missionOrder {
		snap.Missions = append(snap.Missions, s.missions[id])
	}
	snap.Notifications = append(snap.Notifications, s.notifications...)
	for _, d := range s.drones {
		snap.Drones = append(snap.Drones, d)
	}
	for _, g := range s.gateways {
		snap.Gateways = append(snap.Gateways, g)
	}
	return snap
}

func (b *Backend) writeSnapshot() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := b.SnapshotPath()
	if b.cfg.CompressOutput {
		return writeGzipJSON(path, b.buildSnapshot())
	}
	return writeJSON(path, b.buildSnapshot())
}

func writeJSON(path string, data Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}

// loadSnapshot replaces the state with the snapshot on disk. A missing file is not an error.
func (b *Backend) loadSnapshot() error {
	f, err := os.Open(b.SnapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip snapshot: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	b.restore(snap)
	return nil
}

func (b *Backend) restore(snap Snapshot) {
	s := newState()
	for _, p := range snap.RescuePoints {
		s.points[p.ID] = p
		s.byFingerprint[p.Fingerprint] = p.ID
	}
	for _, src := range snap.Sources {
		s.sources[src.RescuePointID] = append(s.sources[src.RescuePointID], src)
	}
	for _, t := range snap.Teams {
		s.teams[t.ID] = t
		s.teamOrder = append(s.teamOrder, t.ID)
	}
	for _, m := range snap.Missions {
		s.missions[m.ID] = m
		s.missionOrder = append(s.missionOrder, m.ID)
	}
	s.notifications = snap.Notifications
	for _, d := range snap.Drones {
		s.drones[d.ID] = d
	}
	for _, g := range snap.Gateways {
		s.gateways[g.ID] = g
	}
	b.st = s
}
