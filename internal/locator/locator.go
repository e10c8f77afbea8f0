// Package locator finds responder teams close to a position by linear scan.
package locator

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/rescuenet/dispatch/internal/geo"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// TeamSource lists teams. Both storage.Store and storage.Tx satisfy it.
type TeamSource interface {
	ListTeams(ctx context.Context, f storage.TeamFilter) ([]core.Team, error)
}

// Candidate is an available team annotated with its distance and travel time to a position.
type Candidate struct {
	Team       core.Team `json:"team"`
	DistanceKm float64   `json:"distanceKm"`
	EtaMinutes int       `json:"etaMinutes"`
}

func candidate(t core.Team, lat, lng float64) Candidate {
	d := geo.DistanceKm(t.Lat, t.Lng, lat, lng)
	return Candidate{
		Team:       t,
		DistanceKm: d,
		EtaMinutes: geo.EstimateEtaMinutes(d, t.Type),
	}
}

func available(ctx context.Context, src TeamSource) ([]core.Team, error) {
	teams, err := src.ListTeams(ctx, storage.TeamFilter{Status: core.TeamAvailable})
	if err != nil {
		return nil, fmt.Errorf("failed to list available teams: %w", err)
	}
	return teams, nil
}

// FindNearest returns the closest AVAILABLE team. The first team in listing order wins exact ties.
// ok is false when no team is available.
func FindNearest(ctx context.Context, src TeamSource, lat, lng float64) (c Candidate, ok bool, err error) {
	teams, err := available(ctx, src)
	if err != nil {
		return Candidate{}, false, err
	}
	for _, t := range teams {
		next := candidate(t, lat, lng)
		if !ok || next.DistanceKm < c.DistanceKm {
			c, ok = next, true
		}
	}
	return c, ok, nil
}

// Rank returns every AVAILABLE team ordered by distance. Ties keep listing order.
func Rank(ctx context.Context, src TeamSource, lat, lng float64) ([]Candidate, error) {
	teams, err := available(ctx, src)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(teams))
	for _, t := range teams {
		out = append(out, candidate(t, lat, lng))
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		return cmp.Compare(a.DistanceKm, b.DistanceKm)
	})
	return out, nil
}

// Static serves a fixed team list. Useful when one listing is ranked against many positions.
type Static []core.Team

// ListTeams filters the fixed list by status, keeping order.
func (s Static) ListTeams(_ context.Context, f storage.TeamFilter) ([]core.Team, error) {
	out := make([]core.Team, 0, len(s))
	for _, t := range s {
		if f.Status == "" || t.Status == f.Status {
			out = append(out, t)
		}
	}
	return out, nil
}
