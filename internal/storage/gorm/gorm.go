// Package gormstorage implements storage.Store on top of GORM. The SQLite and
// Postgres backends embed it and only add connection and dialect concerns.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rescuenet/dispatch/internal/model"
	"github.com/rescuenet/dispatch/internal/model/convert"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	// LockRows adds SELECT ... FOR UPDATE to reads made inside Atomic.
	// SQLite serializes writers on its own and does not support it.
	LockRows bool
}

// Backend implements storage.Store using GORM.
type Backend struct {
	reader
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{
		reader: reader{db: deps.DB},
		deps:   deps,
	}
}

// DB exposes the underlying connection for dialect-specific maintenance.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the schema.
func (b *Backend) Init(ctx context.Context) error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	b.deps.Logger.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := b.deps.DB.WithContext(ctx).AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// Kind names the SQL dialect in use.
func (b *Backend) Kind() string { return b.deps.DB.Name() }

// Ping checks the connection.
func (b *Backend) Ping(ctx context.Context) error {
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Atomic runs fn in one database transaction.
func (b *Backend) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	return b.deps.DB.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{reader: reader{db: gtx, lock: b.deps.LockRows}})
	})
}

// isDuplicate reports whether err is a unique constraint violation on any dialect.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.NotFound(kind, id)
	}
	return fmt.Errorf("failed to load %s %q: %w", kind, id, err)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

////////////////////////
// READS
////////////////////////

type reader struct {
	db   *gorm.DB
	lock bool
}

func (r reader) q(ctx context.Context) *gorm.DB {
	db := r.db.WithContext(ctx)
	if r.lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (r reader) GetRescuePoint(ctx context.Context, id string) (core.RescuePoint, error) {
	var m model.RescuePoint
	if err := r.q(ctx).First(&m, "id = ?", id).Error; err != nil {
		return core.RescuePoint{}, notFound(err, "rescue point", id)
	}
	return convert.RescuePointToCore(m), nil
}

func (r reader) GetRescuePointByFingerprint(ctx context.Context, fingerprint string) (core.RescuePoint, error) {
	var m model.RescuePoint
	if err := r.q(ctx).First(&m, "fingerprint = ?", fingerprint).Error; err != nil {
		return core.RescuePoint{}, notFound(err, "rescue point fingerprint", fingerprint)
	}
	return convert.RescuePointToCore(m), nil
}

var sortColumns = map[storage.SortField]string{
	storage.SortPriority:  "priority_score",
	storage.SortCreatedAt: "created_at",
	storage.SortUrgency:   "urgency",
}

func (r reader) ListRescuePoints(ctx context.Context, f storage.RescuePointFilter) ([]core.RescuePoint, int, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.RescuePoint{})
		if f.Status != "" {
			q = q.Where("status = ?", string(f.Status))
		}
		if f.MinUrgency > 0 {
			q = q.Where("urgency >= ?", f.MinUrgency)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count rescue points: %w", err)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = sortColumns[storage.SortPriority]
	}
	dir := "DESC"
	if f.Ascending {
		dir = "ASC"
	}

	q := base().Order(col + " " + dir).Order("created_at DESC").Order("id ASC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []model.RescuePoint
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list rescue points: %w", err)
	}
	out := make([]core.RescuePoint, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.RescuePointToCore(m))
	}
	return out, int(total), nil
}

func (r reader) ListSources(ctx context.Context, rescuePointID string) ([]core.RescueSource, error) {
	var rows []model.RescueSource
	if err := r.db.WithContext(ctx).
		Where("rescue_point_id = ?", rescuePointID).
		Order("received_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	out := make([]core.RescueSource, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.RescueSourceToCore(m))
	}
	return out, nil
}

func (r reader) GetTeam(ctx context.Context, id string) (core.Team, error) {
	var m model.Team
	if err := r.q(ctx).First(&m, "id = ?", id).Error; err != nil {
		return core.Team{}, notFound(err, "team", id)
	}
	return convert.TeamToCore(m), nil
}

func (r reader) ListTeams(ctx context.Context, f storage.TeamFilter) ([]core.Team, error) {
	q := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var rows []model.Team
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	out := make([]core.Team, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.TeamToCore(m))
	}
	return out, nil
}

func (r reader) GetMission(ctx context.Context, id string) (core.Mission, error) {
	var m model.Mission
	if err := r.q(ctx).First(&m, "id = ?", id).Error; err != nil {
		return core.Mission{}, notFound(err, "mission", id)
	}
	return convert.MissionToCore(m), nil
}

func (r reader) ListMissions(ctx context.Context, f storage.MissionFilter) ([]core.Mission, error) {
	order := "DESC"
	if f.ActiveOnly {
		order = "ASC"
	}
	q := r.db.WithContext(ctx).Order("created_at " + order).Order("id " + order)
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.TeamID != "" {
		q = q.Where("team_id = ?", f.TeamID)
	}
	if f.RescuePointID != "" {
		q = q.Where("rescue_point_id = ?", f.RescuePointID)
	}
	if f.ActiveOnly {
		q = q.Where("status IN ?", []string{string(core.MissionAssigned), string(core.MissionInProgress)})
	}
	var rows []model.Mission
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	out := make([]core.Mission, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.MissionToCore(m))
	}
	return out, nil
}

func (r reader) LatestUnreadNotification(ctx context.Context, rescuePointID string) (core.Notification, error) {
	var m model.Notification
	err := r.db.WithContext(ctx).
		Where("rescue_point_id = ? AND read = ?", rescuePointID, false).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return core.Notification{}, notFound(err, "unread notification for rescue point", rescuePointID)
	}
	return convert.NotificationToCore(m), nil
}

func (r reader) ListNotifications(ctx context.Context, rescuePointID string) ([]core.Notification, error) {
	var rows []model.Notification
	if err := r.db.WithContext(ctx).
		Where("rescue_point_id = ?", rescuePointID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	out := make([]core.Notification, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.NotificationToCore(m))
	}
	return out, nil
}

func (r reader) GetDrone(ctx context.Context, id string) (core.Drone, error) {
	var m model.Drone
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return core.Drone{}, notFound(err, "drone", id)
	}
	return convert.DroneToCore(m), nil
}

func (r reader) ListDrones(ctx context.Context, status core.DroneStatus) ([]core.Drone, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []model.Drone
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list drones: %w", err)
	}
	out := make([]core.Drone, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.DroneToCore(m))
	}
	return out, nil
}

func (r reader) GetGateway(ctx context.Context, id string) (core.Gateway, error) {
	var m model.Gateway
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return core.Gateway{}, notFound(err, "gateway", id)
	}
	return convert.GatewayToCore(m), nil
}

func (r reader) ListGateways(ctx context.Context) ([]core.Gateway, error) {
	var rows []model.Gateway
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	out := make([]core.Gateway, 0, len(rows))
	for _, m := range rows {
		out = append(out, convert.GatewayToCore(m))
	}
	return out, nil
}

type statusCount struct {
	Status string
	N      int
}

func (r reader) countByStatus(ctx context.Context, m any) ([]statusCount, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).Model(m).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error
	return rows, err
}

func (r reader) RescueStats(ctx context.Context) (core.RescueStats, error) {
	st := core.RescueStats{ByStatus: make(map[core.RescueStatus]int)}
	rows, err := r.countByStatus(ctx, &model.RescuePoint{})
	if err != nil {
		return st, fmt.Errorf("failed to count rescue points: %w", err)
	}
	for _, row := range rows {
		st.ByStatus[core.RescueStatus(row.Status)] = row.N
		st.Total += row.N
	}

	var critical, injured int64
	if err := r.db.WithContext(ctx).Model(&model.RescuePoint{}).
		Where("urgency = ? AND status = ?", 3, string(core.RescuePending)).
		Count(&critical).Error; err != nil {
		return st, fmt.Errorf("failed to count critical rescue points: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&model.RescuePoint{}).
		Where("injured = ? AND status IN ?", true, []string{string(core.RescuePending), string(core.RescueAssigned)}).
		Count(&injured).Error; err != nil {
		return st, fmt.Errorf("failed to count injured rescue points: %w", err)
	}
	st.Critical = int(critical)
	st.WithInjured = int(injured)
	return st, nil
}

func (r reader) TeamStats(ctx context.Context) (core.TeamStats, error) {
	st := core.TeamStats{ByStatus: make(map[core.TeamStatus]int)}
	rows, err := r.countByStatus(ctx, &model.Team{})
	if err != nil {
		return st, fmt.Errorf("failed to count teams: %w", err)
	}
	for _, row := range rows {
		st.ByStatus[core.TeamStatus(row.Status)] = row.N
		st.Total += row.N
	}
	return st, nil
}

func (r reader) MissionStats(ctx context.Context) (core.MissionStats, error) {
	st := core.MissionStats{ByStatus: make(map[core.MissionStatus]int)}
	rows, err := r.countByStatus(ctx, &model.Mission{})
	if err != nil {
		return st, fmt.Errorf("failed to count missions: %w", err)
	}
	for _, row := range rows {
		st.ByStatus[core.MissionStatus(row.Status)] = row.N
		st.Total += row.N
	}
	return st, nil
}

////////////////////////
// WRITES
////////////////////////

type tx struct {
	reader
}

func (t *tx) CreateRescuePoint(ctx context.Context, p *core.RescuePoint) error {
	p.ID = newID(p.ID)
	m := convert.CoreToRescuePoint(*p)
	if err := t.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicate(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("failed to create rescue point: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (t *tx) UpdateRescuePoint(ctx context.Context, p *core.RescuePoint) error {
	m := convert.CoreToRescuePoint(*p)
	res := t.db.WithContext(ctx).Model(&model.RescuePoint{}).
		Where("id = ? AND fingerprint = ?", p.ID, p.Fingerprint).
		Select("*").Omit("id", "fingerprint", "created_at").
		Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("failed to update rescue point: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := t.GetRescuePoint(ctx, p.ID); err != nil {
			return err
		}
		return core.Conflict("rescue point %q fingerprint is immutable", p.ID)
	}
	return nil
}

func (t *tx) SetRescueStatus(ctx context.Context, id string, from, to core.RescueStatus) error {
	res := t.db.WithContext(ctx).Model(&model.RescuePoint{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to set rescue point status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		cur, err := t.GetRescuePoint(ctx, id)
		if err != nil {
			return err
		}
		return core.Conflict("rescue point %q is %s, not %s", id, cur.Status, from)
	}
	return nil
}

func (t *tx) AddSource(ctx context.Context, s *core.RescueSource) (bool, error) {
	if _, err := t.GetRescuePoint(ctx, s.RescuePointID); err != nil {
		return false, err
	}
	var n int64
	if err := t.db.WithContext(ctx).Model(&model.RescueSource{}).
		Where("rescue_point_id = ? AND channel = ?", s.RescuePointID, string(s.Channel)).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check sources: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	s.ID = newID(s.ID)
	m := convert.CoreToRescueSource(*s)
	if err := t.db.WithContext(ctx).Create(&m).Error; err != nil {
		return false, fmt.Errorf("failed to add source: %w", err)
	}
	return true, nil
}

func (t *tx) CreateTeam(ctx context.Context, team *core.Team) error {
	team.ID = newID(team.ID)
	m := convert.CoreToTeam(*team)
	if err := t.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicate(err) {
			return core.Conflict("team %q already exists", team.ID)
		}
		return fmt.Errorf("failed to create team: %w", err)
	}
	team.CreatedAt, team.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (t *tx) UpdateTeam(ctx context.Context, team *core.Team) error {
	m := convert.CoreToTeam(*team)
	res := t.db.WithContext(ctx).Model(&model.Team{}).
		Where("id = ?", team.ID).
		Select("*").Omit("id", "created_at").
		Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("failed to update team: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.NotFound("team", team.ID)
	}
	return nil
}

func (t *tx) SetTeamStatus(ctx context.Context, id string, from, to core.TeamStatus) error {
	res := t.db.WithContext(ctx).Model(&model.Team{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to set team status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		cur, err := t.GetTeam(ctx, id)
		if err != nil {
			return err
		}
		return core.Conflict("team %q is %s, not %s", id, cur.Status, from)
	}
	return nil
}

func (t *tx) CreateMission(ctx context.Context, mission *core.Mission) error {
	mission.ID = newID(mission.ID)
	m := convert.CoreToMission(*mission)
	if err := t.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to create mission: %w", err)
	}
	mission.CreatedAt, mission.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (t *tx) UpdateMission(ctx context.Context, mission *core.Mission) error {
	m := convert.CoreToMission(*mission)
	res := t.db.WithContext(ctx).Model(&model.Mission{}).
		Where("id = ?", mission.ID).
		Select("*").Omit("id", "created_at").
		Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("failed to update mission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.NotFound("mission", mission.ID)
	}
	return nil
}

func (t *tx) AddNotification(ctx context.Context, n *core.Notification) error {
	n.ID = newID(n.ID)
	m := convert.CoreToNotification(*n)
	if err := t.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to add notification: %w", err)
	}
	n.CreatedAt = m.CreatedAt
	return nil
}

func (t *tx) MarkNotificationsRead(ctx context.Context, rescuePointID string, at time.Time) (int, error) {
	res := t.db.WithContext(ctx).Model(&model.Notification{}).
		Where("rescue_point_id = ? AND read = ?", rescuePointID, false).
		Updates(map[string]any{"read": true, "read_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (t *tx) SaveDrone(ctx context.Context, d *core.Drone) error {
	m := convert.CoreToDrone(*d)
	if err := t.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to save drone: %w", err)
	}
	return nil
}

func (t *tx) SaveGateway(ctx context.Context, g *core.Gateway) error {
	m := convert.CoreToGateway(*g)
	if err := t.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to save gateway: %w", err)
	}
	return nil
}
