// Package fleet tracks the relay infrastructure: drone heartbeats and LoRa gateway status.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/geo"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// HealthWindow is how recent the last contact must be for a drone to be healthy
// or a gateway to be online.
const HealthWindow = 5 * time.Minute

var signalStrengths = map[string]bool{"": true, "strong": true, "medium": true, "weak": true}

// Dependencies holds all dependencies for the tracker
type Dependencies struct {
	Store  storage.Store
	Events fanout.Publisher
	Logger *slog.Logger
}

// Tracker records fleet status.
type Tracker struct {
	deps Dependencies
	now  func() time.Time
}

// New creates a tracker. A nil publisher or logger discards.
func New(deps Dependencies) *Tracker {
	if deps.Events == nil {
		deps.Events = fanout.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{deps: deps, now: time.Now}
}

// Heartbeat is a drone's periodic status report. Nil fields keep the stored value.
type Heartbeat struct {
	DroneID        string           `json:"droneId"`
	Lat            *float64         `json:"lat,omitempty"`
	Lng            *float64         `json:"lng,omitempty"`
	Altitude       *float64         `json:"altitude,omitempty"`
	BatteryPercent *int             `json:"batteryPercent,omitempty"`
	SignalStrength string           `json:"signalStrength,omitempty"`
	ConnectedUsers int              `json:"connectedUsers"`
	QueueSize      int              `json:"queueSize"`
	Status         core.DroneStatus `json:"status,omitempty"`
}

func validatePosition(v *core.ValidationError, lat, lng *float64) {
	if (lat == nil) != (lng == nil) {
		v.Add("lat/lng", "both or neither must be given")
		return
	}
	if lat != nil {
		if err := geo.ValidateCoordinates(*lat, *lng); err != nil {
			v.Add("lat/lng", err.Error())
		}
	}
}

func validatePercent(v *core.ValidationError, field string, p *int) {
	if p != nil && (*p < 0 || *p > 100) {
		v.Add(field, "must be 0 to 100")
	}
}

func (h Heartbeat) validate() error {
	v := &core.ValidationError{}
	if strings.TrimSpace(h.DroneID) == "" {
		v.Add("droneId", "required")
	}
	validatePosition(v, h.Lat, h.Lng)
	validatePercent(v, "batteryPercent", h.BatteryPercent)
	if !signalStrengths[h.SignalStrength] {
		v.Add("signalStrength", "must be strong, medium or weak")
	}
	if h.ConnectedUsers < 0 {
		v.Add("connectedUsers", "must not be negative")
	}
	if h.QueueSize < 0 {
		v.Add("queueSize", "must not be negative")
	}
	if h.Status != "" && !h.Status.Valid() {
		v.Add("status", fmt.Sprintf("unknown status %q", h.Status))
	}
	return v.Err()
}

// Heartbeat upserts a drone. Unknown drones are registered as "Drone <id>"; a missing
// status means ACTIVE.
func (t *Tracker) Heartbeat(ctx context.Context, h Heartbeat) (core.Drone, error) {
	if err := h.validate(); err != nil {
		return core.Drone{}, err
	}
	id := strings.TrimSpace(h.DroneID)

	var d core.Drone
	err := t.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		d, err = tx.GetDrone(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			d, err = core.Drone{ID: id, Name: "Drone " + id}, nil
		}
		if err != nil {
			return err
		}

		if h.Lat != nil {
			d.Lat, d.Lng = h.Lat, h.Lng
		}
		if h.Altitude != nil {
			d.Altitude = h.Altitude
		}
		if h.BatteryPercent != nil {
			d.BatteryPercent = h.BatteryPercent
		}
		if h.SignalStrength != "" {
			d.SignalStrength = h.SignalStrength
		}
		d.ConnectedUsers = h.ConnectedUsers
		d.QueueSize = h.QueueSize
		d.Status = h.Status
		if d.Status == "" {
			d.Status = core.DroneActive
		}
		d.LastHeartbeat = t.now()
		return tx.SaveDrone(ctx, &d)
	})
	if err != nil {
		return core.Drone{}, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	d.IsHealthy = true
	t.deps.Events.Publish(core.EventDroneStatus, d)
	t.deps.Logger.Debug("Drone heartbeat", "droneId", d.ID, "status", d.Status)
	return d, nil
}

func (t *Tracker) healthy(last time.Time) bool {
	return !last.IsZero() && t.now().Sub(last) < HealthWindow
}

// Drone returns one drone.
func (t *Tracker) Drone(ctx context.Context, id string) (core.Drone, error) {
	d, err := t.deps.Store.GetDrone(ctx, id)
	if err != nil {
		return core.Drone{}, err
	}
	d.IsHealthy = t.healthy(d.LastHeartbeat)
	return d, nil
}

// Drones lists drones by id, optionally narrowed to one status.
func (t *Tracker) Drones(ctx context.Context, status core.DroneStatus) ([]core.Drone, error) {
	if status != "" && !status.Valid() {
		return nil, core.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	drones, err := t.deps.Store.ListDrones(ctx, status)
	if err != nil {
		return nil, err
	}
	for i := range drones {
		drones[i].IsHealthy = t.healthy(drones[i].LastHeartbeat)
	}
	return drones, nil
}

// DroneStats counts drones per status and averages the reported battery levels.
func (t *Tracker) DroneStats(ctx context.Context) (core.DroneStats, error) {
	drones, err := t.deps.Store.ListDrones(ctx, "")
	if err != nil {
		return core.DroneStats{}, err
	}
	s := core.DroneStats{Total: len(drones), ByStatus: map[core.DroneStatus]int{}}
	sum, n := 0, 0
	for _, d := range drones {
		s.ByStatus[d.Status]++
		if d.BatteryPercent != nil {
			sum += *d.BatteryPercent
			n++
		}
	}
	if n > 0 {
		s.AvgBattery = int(math.Round(float64(sum) / float64(n)))
	}
	return s, nil
}

// Position is a gateway location.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GatewayReport is the status message a LoRa gateway sends.
type GatewayReport struct {
	GatewayID    string    `json:"gateway_id"`
	Type         string    `json:"type"`
	Name         string    `json:"name,omitempty"`
	Position     *Position `json:"position,omitempty"`
	Battery      *int      `json:"battery,omitempty"`
	Signal4G     *int      `json:"signal_4g,omitempty"`
	PacketsToday int       `json:"packets_today"`
	DevicesSeen  int       `json:"devices_seen"`
}

var gatewayTypes = map[string]core.GatewayType{
	"fixed":  core.GatewayFixed,
	"mobile": core.GatewayMobile,
}

func (r GatewayReport) validate() error {
	v := &core.ValidationError{}
	if strings.TrimSpace(r.GatewayID) == "" {
		v.Add("gateway_id", "required")
	}
	if _, ok := gatewayTypes[strings.ToLower(r.Type)]; !ok {
		v.Add("type", "must be fixed or mobile")
	}
	if r.Position != nil {
		validatePosition(v, &r.Position.Lat, &r.Position.Lng)
	}
	validatePercent(v, "battery", r.Battery)
	if r.PacketsToday < 0 {
		v.Add("packets_today", "must not be negative")
	}
	if r.DevicesSeen < 0 {
		v.Add("devices_seen", "must not be negative")
	}
	return v.Err()
}

// GatewayStatus upserts a gateway and marks it seen now.
func (t *Tracker) GatewayStatus(ctx context.Context, r GatewayReport) (core.Gateway, error) {
	if err := r.validate(); err != nil {
		return core.Gateway{}, err
	}
	id := strings.TrimSpace(r.GatewayID)

	var g core.Gateway
	err := t.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		g, err = tx.GetGateway(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			g, err = core.Gateway{ID: id, Name: id}, nil
		}
		if err != nil {
			return err
		}

		g.Type = gatewayTypes[strings.ToLower(r.Type)]
		if r.Name != "" {
			g.Name = r.Name
		}
		if r.Position != nil {
			lat, lng := r.Position.Lat, r.Position.Lng
			g.Lat, g.Lng = &lat, &lng
		}
		if r.Battery != nil {
			g.Battery = r.Battery
		}
		if r.Signal4G != nil {
			g.Signal4G = r.Signal4G
		}
		g.PacketsToday = r.PacketsToday
		g.DevicesSeen = r.DevicesSeen
		g.LastSeen = t.now()
		g.Online = true
		return tx.SaveGateway(ctx, &g)
	})
	if err != nil {
		return core.Gateway{}, fmt.Errorf("failed to record gateway status: %w", err)
	}

	t.deps.Events.Publish(core.EventGatewayUpdate, g)
	t.deps.Logger.Info("Gateway status updated", "gatewayId", g.ID, "type", g.Type)
	return g, nil
}

// Gateway returns one gateway.
func (t *Tracker) Gateway(ctx context.Context, id string) (core.Gateway, error) {
	g, err := t.deps.Store.GetGateway(ctx, id)
	if err != nil {
		return core.Gateway{}, err
	}
	g.Online = t.healthy(g.LastSeen)
	return g, nil
}

// Gateways lists every gateway with its online flag.
func (t *Tracker) Gateways(ctx context.Context) ([]core.Gateway, error) {
	gateways, err := t.deps.Store.ListGateways(ctx)
	if err != nil {
		return nil, err
	}
	for i := range gateways {
		gateways[i].Online = t.healthy(gateways[i].LastSeen)
	}
	return gateways, nil
}

// GatewayStats counts gateways, how many are online, and today's packets.
func (t *Tracker) GatewayStats(ctx context.Context) (core.GatewayStats, error) {
	gateways, err := t.Gateways(ctx)
	if err != nil {
		return core.GatewayStats{}, err
	}
	s := core.GatewayStats{Total: len(gateways)}
	for _, g := range gateways {
		if g.Online {
			s.Online++
		}
		s.PacketsToday += g.PacketsToday
	}
	return s, nil
}
