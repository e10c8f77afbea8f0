// Package intake normalizes channel-specific report encodings into core.Report and hands
// them to the ledger.
package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Portal defaults for omitted fields.
const (
	DefaultPeople  = 1
	DefaultUrgency = 3
	MaxPeople      = 100
	MaxPhoneLength = 15
)

// PortalReport is the JSON body of a direct or drone-relayed submission.
// Urgency is already 1-3 and the water level is already a bucket label.
type PortalReport struct {
	Lat           *float64 `json:"lat"`
	Lng           *float64 `json:"lng"`
	People        *int     `json:"people,omitempty"`
	Urgency       *int     `json:"urgency,omitempty"`
	Injured       bool     `json:"injured"`
	WaterLevel    string   `json:"water_level,omitempty"`
	FoodAvailable *bool    `json:"food_available,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Description   string   `json:"description,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	IsPanic       bool     `json:"is_panic"`
	SourceDrone   string   `json:"source_drone,omitempty"`
	Channel       string   `json:"channel,omitempty"`
}

// Normalize validates the report and fills defaults: one person, urgency 3. The channel is
// the explicit one, else drone when a source drone is named, else portal.
func (p PortalReport) Normalize() (core.Report, error) {
	v := &core.ValidationError{}

	r := core.Report{
		People:        DefaultPeople,
		Urgency:       DefaultUrgency,
		Injured:       p.Injured,
		WaterLevel:    core.WaterLevel(p.WaterLevel),
		FoodAvailable: p.FoodAvailable,
		Phone:         strings.TrimSpace(p.Phone),
		Description:   strings.TrimSpace(p.Description),
		Fingerprint:   strings.TrimSpace(p.Fingerprint),
		IsPanic:       p.IsPanic,
		SourceDrone:   strings.TrimSpace(p.SourceDrone),
		Channel:       core.ChannelPortal,
	}

	if p.Lat == nil {
		v.Add("lat", "required")
	} else {
		r.Lat = *p.Lat
	}
	if p.Lng == nil {
		v.Add("lng", "required")
	} else {
		r.Lng = *p.Lng
	}
	if p.People != nil {
		r.People = *p.People
	}
	if r.People > MaxPeople {
		v.Add("people", fmt.Sprintf("must be at most %d", MaxPeople))
	}
	if p.Urgency != nil {
		r.Urgency = *p.Urgency
	}
	if len(r.Phone) > MaxPhoneLength {
		v.Add("phone", fmt.Sprintf("must be at most %d characters", MaxPhoneLength))
	}

	switch {
	case p.Channel != "":
		r.Channel = core.Channel(p.Channel)
	case r.SourceDrone != "":
		r.Channel = core.ChannelDrone
	}

	if err := v.Err(); err != nil {
		return core.Report{}, err
	}
	// range checks shared with every channel
	if err := ledger.Validate(r); err != nil {
		return core.Report{}, err
	}
	return r, nil
}

// LoraReport is the compact encoding forwarded by LoRa gateways.
type LoraReport struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	People      int     `json:"people"`
	Urgency     string  `json:"urgency"`
	Injured     bool    `json:"injured"`
	WaterLevel  *int    `json:"water_level,omitempty"`
	NoFood      bool    `json:"no_food"`
	IsPanic     bool    `json:"is_panic"`
	Phone       string  `json:"phone,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	SourceDrone *int    `json:"source_drone,omitempty"`
}

var loraUrgency = map[string]int{
	"low":    1,
	"medium": 2,
	"high":   3,
}

var loraWaterLevel = map[int]core.WaterLevel{
	0: core.WaterBelowHalf,
	1: core.WaterHalfToOne,
	2: core.WaterOneToTwo,
	3: core.WaterAboveTwo,
}

// LoraUrgency decodes the compact urgency word. Unknown words mean medium.
func LoraUrgency(s string) int {
	if u, ok := loraUrgency[strings.ToLower(strings.TrimSpace(s))]; ok {
		return u
	}
	return 2
}

// LoraWaterLevel decodes the compact water level code. Unknown codes mean 0.5-1m.
func LoraWaterLevel(code int) core.WaterLevel {
	if w, ok := loraWaterLevel[code]; ok {
		return w
	}
	return core.WaterHalfToOne
}

// DroneID renders a numeric drone id as D01, D02, ...
func DroneID(n int) string {
	return fmt.Sprintf("D%02d", n)
}

// Normalize decodes the compact fields for the channel the gateway authenticated as.
// A missing head count means one person, a missing water level means 0.5-1m.
func (l LoraReport) Normalize(channel core.Channel) (core.Report, error) {
	food := !l.NoFood
	r := core.Report{
		Fingerprint:   strings.TrimSpace(l.Fingerprint),
		Lat:           l.Lat,
		Lng:           l.Lng,
		People:        l.People,
		Urgency:       LoraUrgency(l.Urgency),
		Injured:       l.Injured,
		WaterLevel:    core.WaterHalfToOne,
		FoodAvailable: &food,
		Phone:         strings.TrimSpace(l.Phone),
		IsPanic:       l.IsPanic,
		Channel:       channel,
	}
	if r.People == 0 {
		r.People = DefaultPeople
	}
	if l.WaterLevel != nil {
		r.WaterLevel = LoraWaterLevel(*l.WaterLevel)
	}
	if l.SourceDrone != nil {
		r.SourceDrone = DroneID(*l.SourceDrone)
	}
	if err := ledger.Validate(r); err != nil {
		return core.Report{}, err
	}
	return r, nil
}

// Submitter records canonical reports. *ledger.Ledger satisfies it.
type Submitter interface {
	Submit(ctx context.Context, r core.Report) (ledger.Result, error)
}

// Adapter authenticates and normalizes reports from every channel before submitting them.
type Adapter struct {
	ledger Submitter
	auth   *Authenticator
}

// NewAdapter creates an adapter.
func NewAdapter(l Submitter, auth *Authenticator) *Adapter {
	return &Adapter{ledger: l, auth: auth}
}

// Authenticator returns the gateway authenticator in use.
func (a *Adapter) Authenticator() *Authenticator {
	return a.auth
}

// SubmitPortal records a portal or drone-relayed report.
func (a *Adapter) SubmitPortal(ctx context.Context, p PortalReport) (ledger.Result, error) {
	r, err := p.Normalize()
	if err != nil {
		return ledger.Result{}, err
	}
	return a.ledger.Submit(ctx, r)
}

// SubmitLora authenticates the gateway, then records its report on the gateway's channel.
func (a *Adapter) SubmitLora(ctx context.Context, source, key string, l LoraReport) (ledger.Result, error) {
	channel, err := a.auth.Authenticate(source, key)
	if err != nil {
		return ledger.Result{}, err
	}
	r, err := l.Normalize(channel)
	if err != nil {
		return ledger.Result{}, err
	}
	return a.ledger.Submit(ctx, r)
}
