// internal/storage/memory/memory.go
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Kind is reported by Backend.Kind.
const Kind = "memory"

// state holds every record. It is not safe for concurrent use on its own;
// Backend guards it with mu.
type state struct {
	points        map[string]core.RescuePoint
	byFingerprint map[string]string
	sources       map[string][]core.RescueSource // keyed by rescue point ID

	teams     map[string]core.Team
	teamOrder []string

	missions     map[string]core.Mission
	missionOrder []string

	notifications []core.Notification

	drones   map[string]core.Drone
	gateways map[string]core.Gateway
}

func newState() *state {
	return &state{
		points:        make(map[string]core.RescuePoint),
		byFingerprint: make(map[string]string),
		sources:       make(map[string][]core.RescueSource),
		teams:         make(map[string]core.Team),
		missions:      make(map[string]core.Mission),
		drones:        make(map[string]core.Drone),
		gateways:      make(map[string]core.Gateway),
	}
}

// Backend keeps all records in memory. Atomic units are serialized by a single
// write lock and rolled back through an undo log.
type Backend struct {
	cfg config.MemoryConfig
	st  *state
	mu  sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg: cfg,
		st:  newState(),
	}
}

// Init restores the last snapshot when an output directory is configured,
// then seeds the demo fixtures into an empty store when enabled.
func (b *Backend) Init(ctx context.Context) error {
	if b.cfg.OutputDir != "" {
		b.mu.Lock()
		err := b.loadSnapshot()
		b.mu.Unlock()
		if err != nil {
			return err
		}
	}
	if b.cfg.Fixtures {
		if _, err := storage.Seed(ctx, b); err != nil {
			return fmt.Errorf("failed to seed fixtures: %w", err)
		}
	}
	return nil
}

// Close writes a snapshot when an output directory is configured
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writeSnapshot()
}

// Kind names the implementation.
func (b *Backend) Kind() string { return Kind }

// Ping always succeeds.
func (b *Backend) Ping(ctx context.Context) error { return nil }

// Atomic runs fn under the write lock. On error or panic every write fn made
// is undone; the panic is then re-raised.
func (b *Backend) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := &tx{state: b.st}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// Reader methods take the read lock and delegate to state.

func (b *Backend) GetRescuePoint(ctx context.Context, id string) (core.RescuePoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.GetRescuePoint(ctx, id)
}

func (b *Backend) GetRescuePointByFingerprint(ctx context.Context, fingerprint string) (core.RescuePoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.GetRescuePointByFingerprint(ctx, fingerprint)
}

func (b *Backend) ListRescuePoints(ctx context.Context, f storage.RescuePointFilter) ([]core.RescuePoint, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListRescuePoints(ctx, f)
}

func (b *Backend) ListSources(ctx context.Context, rescuePointID string) ([]core.RescueSource, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListSources(ctx, rescuePointID)
}

func (b *Backend) GetTeam(ctx context.Context, id string) (core.Team, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.GetTeam(ctx, id)
}

func (b *Backend) ListTeams(ctx context.Context, f storage.TeamFilter) ([]core.Team, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListTeams(ctx, f)
}

func (b *Backend) GetMission(ctx context.Context, id string) (core.Mission, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.GetMission(ctx, id)
}

func (b *Backend) ListMissions(ctx context.Context, f storage.MissionFilter) ([]core.Mission, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListMissions(ctx, f)
}

func (b *Backend) LatestUnreadNotification(ctx context.Context, rescuePointID string) (core.Notification, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.LatestUnreadNotification(ctx, rescuePointID)
}

func (b *Backend) ListNotifications(ctx context.Context, rescuePointID string) ([]core.Notification, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListNotifications(ctx, rescuePointID)
}

func (b *Backend) GetDrone(ctx context.Context, id string) (core.Drone, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.GetDrone(ctx, id)
}

func (b *Backend) ListDrones(ctx context.Context, status core.DroneStatus) ([]core.Drone, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListDrones(ctx, status)
}

func (b *Backend) GetGateway(ctx context.Context, id string) (core.Gateway, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.GetGateway(ctx, id)
}

func (b *Backend) ListGateways(ctx context.Context) ([]core.Gateway, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.ListGateways(ctx)
}

func (b *Backend) RescueStats(ctx context.Context) (core.RescueStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.RescueStats(ctx)
}

func (b *Backend) TeamStats(ctx context.Context) (core.TeamStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.TeamStats(ctx)
}

func (b *Backend) MissionStats(ctx context.Context) (core.MissionStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st.MissionStats(ctx)
}

// READS

func (s *state) GetRescuePoint(_ context.Context, id string) (core.RescuePoint, error) {
	p, ok := s.points[id]
	if !ok {
		return core.RescuePoint{}, core.NotFound("rescue point", id)
	}
	return p, nil
}

func (s *state) GetRescuePointByFingerprint(ctx context.Context, fingerprint string) (core.RescuePoint, error) {
	id, ok := s.byFingerprint[fingerprint]
	if !ok {
		return core.RescuePoint{}, core.NotFound("rescue point fingerprint", fingerprint)
	}
	return s.GetRescuePoint(ctx, id)
}

func (s *state) ListRescuePoints(_ context.Context, f storage.RescuePointFilter) ([]core.RescuePoint, int, error) {
	var out []core.RescuePoint
	for _, p := range s.points {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.MinUrgency > 0 && p.Urgency < f.MinUrgency {
			continue
		}
		out = append(out, p)
	}

	slices.SortFunc(out, func(a, b core.RescuePoint) int {
		var c int
		switch f.SortBy {
		case storage.SortCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case storage.SortUrgency:
			c = cmp.Compare(a.Urgency, b.Urgency)
		default:
			c = cmp.Compare(a.PriorityScore, b.PriorityScore)
		}
		if !f.Ascending {
			c = -c
		}
		if c == 0 {
			// newest first, then ID for a total order
			c = b.CreatedAt.Compare(a.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		return c
	})

	total := len(out)
	return page(out, f.Offset, f.Limit), total, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[max(offset, 0):]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *state) ListSources(_ context.Context, rescuePointID string) ([]core.RescueSource, error) {
	return slices.Clone(s.sources[rescuePointID]), nil
}

func (s *state) GetTeam(_ context.Context, id string) (core.Team, error) {
	t, ok := s.teams[id]
	if !ok {
		return core.Team{}, core.NotFound("team", id)
	}
	return t, nil
}

func (s *state) ListTeams(_ context.Context, f storage.TeamFilter) ([]core.Team, error) {
	out := make([]core.Team, 0, len(s.teamOrder))
	for _, id := range s.teamOrder {
		t := s.teams[id]
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *state) GetMission(_ context.Context, id string) (core.Mission, error) {
	m, ok := s.missions[id]
	if !ok {
		return core.Mission{}, core.NotFound("mission", id)
	}
	return m, nil
}

func (s *state) ListMissions(_ context.Context, f storage.MissionFilter) ([]core.Mission, error) {
	out := []core.Mission{}
	// newest first, active listings oldest first
	for n := range s.missionOrder {
		i := len(s.missionOrder) - 1 - n
		if f.ActiveOnly {
			i = n
		}
		m := s.missions[s.missionOrder[i]]
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.TeamID != "" && m.TeamID != f.TeamID {
			continue
		}
		if f.RescuePointID != "" && m.RescuePointID != f.RescuePointID {
			continue
		}
		if f.ActiveOnly && !m.Status.Active() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *state) LatestUnreadNotification(_ context.Context, rescuePointID string) (core.Notification, error) {
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.RescuePointID == rescuePointID && !n.Read {
			return cloneNotification(n), nil
		}
	}
	return core.Notification{}, core.NotFound("unread notification for rescue point", rescuePointID)
}

func (s *state) ListNotifications(_ context.Context, rescuePointID string) ([]core.Notification, error) {
	out := []core.Notification{}
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if n := s.notifications[i]; n.RescuePointID == rescuePointID {
			out = append(out, cloneNotification(n))
		}
	}
	return out, nil
}

func cloneNotification(n core.Notification) core.Notification {
	n.Instructions = slices.Clone(n.Instructions)
	return n
}

func (s *state) GetDrone(_ context.Context, id string) (core.Drone, error) {
	d, ok := s.drones[id]
	if !ok {
		return core.Drone{}, core.NotFound("drone", id)
	}
	return d, nil
}

func (s *state) ListDrones(_ context.Context, status core.DroneStatus) ([]core.Drone, error) {
	out := []core.Drone{}
	for _, d := range s.drones {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b core.Drone) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *state) GetGateway(_ context.Context, id string) (core.Gateway, error) {
	g, ok := s.gateways[id]
	if !ok {
		return core.Gateway{}, core.NotFound("gateway", id)
	}
	return g, nil
}

func (s *state) ListGateways(_ context.Context) ([]core.Gateway, error) {
	out := make([]core.Gateway, 0, len(s.gateways))
	for _, g := range s.gateways {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b core.Gateway) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *state) RescueStats(_ context.Context) (core.RescueStats, error) {
	st := core.RescueStats{ByStatus: make(map[core.RescueStatus]int)}
	for _, p := range s.points {
		st.Total++
		st.ByStatus[p.Status]++
		if p.Urgency == 3 && p.Status == core.RescuePending {
			st.Critical++
		}
		if p.Injured && (p.Status == core.RescuePending || p.Status == core.RescueAssigned) {
			st.WithInjured++
		}
	}
	return st, nil
}

func (s *state) TeamStats(_ context.Context) (core.TeamStats, error) {
	st := core.TeamStats{ByStatus: make(map[core.TeamStatus]int)}
	for _, t := range s.teams {
		st.Total++
		st.ByStatus[t.Status]++
	}
	return st, nil
}

func (s *state) MissionStats(_ context.Context) (core.MissionStats, error) {
	st := core.MissionStats{ByStatus: make(map[core.MissionStatus]int)}
	for _, m := range s.missions {
		st.Total++
		st.ByStatus[m.Status]++
	}
	return st, nil
}

// WRITES

// tx applies writes directly to state and records how to revert each one.
type tx struct {
	*state
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func (t *tx) CreateRescuePoint(_ context.Context, p *core.RescuePoint) error {
	if _, taken := t.byFingerprint[p.Fingerprint]; taken {
		return storage.ErrDuplicate
	}
	p.ID = newID(p.ID)
	if _, exists := t.points[p.ID]; exists {
		return core.Conflict("rescue point %q already exists", p.ID)
	}

	t.points[p.ID] = *p
	t.byFingerprint[p.Fingerprint] = p.ID
	id, fp := p.ID, p.Fingerprint
	t.undo = append(t.undo, func() {
		delete(t.points, id)
		delete(t.byFingerprint, fp)
	})
	return nil
}

func (t *tx) UpdateRescuePoint(_ context.Context, p *core.RescuePoint) error {
	prev, ok := t.points[p.ID]
	if !ok {
		return core.NotFound("rescue point", p.ID)
	}
	if prev.Fingerprint != p.Fingerprint {
		return core.Conflict("rescue point %q fingerprint is immutable", p.ID)
	}
	t.points[p.ID] = *p
	t.undo = append(t.undo, func() { t.points[prev.ID] = prev })
	return nil
}

func (t *tx) SetRescueStatus(_ context.Context, id string, from, to core.RescueStatus) error {
	prev, ok := t.points[id]
	if !ok {
		return core.NotFound("rescue point", id)
	}
	if prev.Status != from {
		return core.Conflict("rescue point %q is %s, not %s", id, prev.Status, from)
	}
	next := prev
	next.Status = to
	next.UpdatedAt = time.Now()
	t.points[id] = next
	t.undo = append(t.undo, func() { t.points[id] = prev })
	return nil
}

func (t *tx) AddSource(_ context.Context, src *core.RescueSource) (bool, error) {
	if _, ok := t.points[src.RescuePointID]; !ok {
		return false, core.NotFound("rescue point", src.RescuePointID)
	}
	prev := t.sources[src.RescuePointID]
	for _, existing := range prev {
		if existing.Channel == src.Channel {
			return false, nil
		}
	}
	src.ID = newID(src.ID)
	t.sources[src.RescuePointID] = append(slices.Clone(prev), *src)
	rpID := src.RescuePointID
	t.undo = append(t.undo, func() { t.sources[rpID] = prev })
	return true, nil
}

func (t *tx) CreateTeam(_ context.Context, team *core.Team) error {
	team.ID = newID(team.ID)
	if _, exists := t.teams[team.ID]; exists {
		return core.Conflict("team %q already exists", team.ID)
	}
	t.teams[team.ID] = *team
	t.teamOrder = append(t.teamOrder, team.ID)
	id := team.ID
	t.undo = append(t.undo, func() {
		delete(t.teams, id)
		t.teamOrder = t.teamOrder[:len(t.teamOrder)-1]
	})
	return nil
}

func (t *tx) UpdateTeam(_ context.Context, team *core.Team) error {
	prev, ok := t.teams[team.ID]
	if !ok {
		return core.NotFound("team", team.ID)
	}
	t.teams[team.ID] = *team
	t.undo = append(t.undo, func() { t.teams[prev.ID] = prev })
	return nil
}

func (t *tx) SetTeamStatus(_ context.Context, id string, from, to core.TeamStatus) error {
	prev, ok := t.teams[id]
	if !ok {
		return core.NotFound("team", id)
	}
	if prev.Status != from {
		return core.Conflict("team %q is %s, not %s", id, prev.Status, from)
	}
	next := prev
	next.Status = to
	next.UpdatedAt = time.Now()
	t.teams[id] = next
	t.undo = append(t.undo, func() { t.teams[id] = prev })
	return nil
}

func (t *tx) CreateMission(_ context.Context, m *core.Mission) error {
	m.ID = newID(m.ID)
	if _, exists := t.missions[m.ID]; exists {
		return core.Conflict("mission %q already exists", m.ID)
	}
	t.missions[m.ID] = *m
	t.missionOrder = append(t.missionOrder, m.ID)
	id := m.ID
	t.undo = append(t.undo, func() {
		delete(t.missions, id)
		t.missionOrder = t.missionOrder[:len(t.missionOrder)-1]
	})
	return nil
}

func (t *tx) UpdateMission(_ context.Context, m *core.Mission) error {
	prev, ok := t.missions[m.ID]
	if !ok {
		return core.NotFound("mission", m.ID)
	}
	t.missions[m.ID] = *m
	t.undo = append(t.undo, func() { t.missions[prev.ID] = prev })
	return nil
}

func (t *tx) AddNotification(_ context.Context, n *core.Notification) error {
	n.ID = newID(n.ID)
	stored := cloneNotification(*n)
	t.notifications = append(t.notifications, stored)
	t.undo = append(t.undo, func() { t.notifications = t.notifications[:len(t.notifications)-1] })
	return nil
}

func (t *tx) MarkNotificationsRead(_ context.Context, rescuePointID string, at time.Time) (int, error) {
	changed := 0
	for i := range t.notifications {
		n := &t.notifications[i]
		if n.RescuePointID != rescuePointID || n.Read {
			continue
		}
		prev := *n
		readAt := at
		n.Read = true
		n.ReadAt = &readAt
		changed++
		idx := i
		t.undo = append(t.undo, func() { t.notifications[idx] = prev })
	}
	return changed, nil
}

func (t *tx) SaveDrone(_ context.Context, d *core.Drone) error {
	prev, existed := t.drones[d.ID]
	t.drones[d.ID] = *d
	id := d.ID
	t.undo = append(t.undo, func() {
		if existed {
			t.drones[id] = prev
		} else {
			delete(t.drones, id)
		}
	})
	return nil
}

func (t *tx) SaveGateway(_ context.Context, g *core.Gateway) error {
	prev, existed := t.gateways[g.ID]
	t.gateways[g.ID] = *g
	id := g.ID
	t.undo = append(t.undo, func() {
		if existed {
			t.gateways[id] = prev
		} else {
			delete(t.gateways, id)
		}
	})
	return nil
}
