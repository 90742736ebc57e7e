// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle starts, verifies and stops agent processes and keeps a
// durable record of their state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/config"
)

// State is the lifecycle state of an agent process.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
	StateOrphaned   State = "orphaned"
)

const (
	defaultVerifyAttempts = 5
	defaultVerifyInterval = time.Second
	defaultDialTimeout    = 2 * time.Second
	stopGrace             = 5 * time.Second
)

// ServiceModel is a row of agent_services.
type ServiceModel struct {
	AgentName string    `gorm:"column:agent_name;primaryKey;size:64"`
	State     string    `gorm:"column:state;size:16;not null;index"`
	PID       int       `gorm:"column:pid"`
	Port      int       `gorm:"column:port;index"`
	Reason    string    `gorm:"column:reason;type:text"`
	StartedAt time.Time `gorm:"column:started_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName implements [schema.Tabler].
func (ServiceModel) TableName() string { return "agent_services" }

// Status is the observed state of one agent.
type Status struct {
	AgentName string
	State     State
	PID       int
	Port      int
	Reason    string
}

// UnavailableError reports that an agent's process is not serving.
type UnavailableError struct {
	AgentName string
	State     State
	Reason    string
}

var _ agentcore.Kinder = (*UnavailableError)(nil)

func (e *UnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("agent %s is %s: %s", e.AgentName, e.State, e.Reason)
	}
	return fmt.Sprintf("agent %s is %s", e.AgentName, e.State)
}

// Kind implements [agentcore.Kinder]. An agent that is down conflicts with
// the request rather than being absent.
func (e *UnavailableError) Kind() agentcore.ErrorKind { return agentcore.KindInvalidTaskState }

// ManagerConfig holds the collaborators of a [Manager].
type ManagerConfig struct {
	DB          *gorm.DB
	AutoMigrate bool
	Agents      *agent.Registry
	Lifecycle   config.LifecycleConfig
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Clock       func() time.Time
}

// Manager owns the agent processes spawned by this host.
type Manager struct {
	db     *gorm.DB
	agents *agent.Registry
	cfg    config.LifecycleConfig
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	// procs is the set of process handles spawned by this manager.
	mu    sync.Mutex
	procs map[int]*process
}

// NewManager returns a manager over cfg.DB.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.DB == nil {
		return nil, errors.New("lifecycle: database connection cannot be nil")
	}
	if cfg.Agents == nil {
		return nil, errors.New("lifecycle: agent registry cannot be nil")
	}
	m := &Manager{
		db:     cfg.DB,
		agents: cfg.Agents,
		cfg:    cfg.Lifecycle,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		now:    cfg.Clock,
		procs:  make(map[int]*process),
	}
	if m.cfg.VerifyAttempts <= 0 {
		m.cfg.VerifyAttempts = defaultVerifyAttempts
	}
	if m.cfg.VerifyInterval <= 0 {
		m.cfg.VerifyInterval = defaultVerifyInterval
	}
	if m.cfg.DialTimeout <= 0 {
		m.cfg.DialTimeout = defaultDialTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/go-a2a/agentcore/agent/lifecycle")
	}
	if m.now == nil {
		m.now = time.Now
	}
	if cfg.AutoMigrate {
		if err := m.db.WithContext(ctx).AutoMigrate(&ServiceModel{}); err != nil {
			return nil, agentcore.NewPersistenceError("lifecycle.migrate", err)
		}
	}
	return m, nil
}

// Status returns the recorded state of name. An agent without a record has
// never been started by any manager.
func (m *Manager) Status(ctx context.Context, name string) (*Status, error) {
	row, err := m.record(ctx, name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &Status{AgentName: name, State: StateNotStarted}, nil
	}
	return &Status{AgentName: row.AgentName, State: State(row.State), PID: row.PID, Port: row.Port, Reason: row.Reason}, nil
}

// CheckAvailable refuses agents whose process is known to be down. Agents
// without a record are served in-process and always available.
func (m *Manager) CheckAvailable(ctx context.Context, name string) error {
	st, err := m.Status(ctx, name)
	if err != nil {
		return err
	}
	switch st.State {
	case StateFailed, StateStopped, StateOrphaned:
		return &UnavailableError{AgentName: name, State: st.State, Reason: st.Reason}
	}
	return nil
}

func (m *Manager) record(ctx context.Context, name string) (*ServiceModel, error) {
	var row ServiceModel
	err := m.db.WithContext(ctx).Where("agent_name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, agentcore.NewPersistenceError("lifecycle.record", err)
	}
	return &row, nil
}

func (m *Manager) save(ctx context.Context, row *ServiceModel) error {
	row.UpdatedAt = m.now()
	err := m.db.WithContext(context.WithoutCancel(ctx)).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "pid", "port", "reason", "started_at", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return agentcore.NewPersistenceError("lifecycle.save", err)
	}
	return nil
}

func (m *Manager) markFailed(ctx context.Context, row *ServiceModel, reason string) error {
	row.State = string(StateFailed)
	row.Reason = reason
	m.logger.ErrorContext(ctx, "agent failed",
		slog.String("agent_name", row.AgentName),
		slog.Int("pid", row.PID),
		slog.Int("port", row.Port),
		slog.String("reason", reason),
	)
	return m.save(ctx, row)
}

// ValidatePrerequisites makes sure port is free for name. A port held by a
// process recorded for any agent is reclaimed by stopping that process; a
// port held by anything else is an error.
func (m *Manager) ValidatePrerequisites(ctx context.Context, name string, port int) error {
	if portFree(port) {
		return nil
	}
	pid, err := listenerPID(port)
	if err != nil {
		return fmt.Errorf("port %d is in use: %w", port, err)
	}
	var stale ServiceModel
	err = m.db.WithContext(ctx).Where("pid = ? AND state <> ?", pid, string(StateStopped)).First(&stale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return agentcore.NewValidationError("port", fmt.Sprintf("port %d is held by unrelated process %d", port, pid))
	}
	if err != nil {
		return agentcore.NewPersistenceError("lifecycle.validate_prerequisites", err)
	}

	m.logger.WarnContext(ctx, "reclaiming port from stale agent process",
		slog.String("agent_name", name),
		slog.String("stale_agent", stale.AgentName),
		slog.Int("pid", pid),
		slog.Int("port", port),
	)
	if err := m.terminate(ctx, pid); err != nil {
		return err
	}
	stale.State, stale.Reason = string(StateStopped), "reclaimed port "+strconv.Itoa(port)
	if err := m.save(ctx, &stale); err != nil {
		return err
	}
	if !portFree(port) {
		return agentcore.NewValidationError("port", fmt.Sprintf("port %d still in use after reclaiming pid %d", port, pid))
	}
	return nil
}

// SpawnDetachedProcess launches def's binary in its own process group on
// port and records it as running.
func (m *Manager) SpawnDetachedProcess(ctx context.Context, def *agent.Definition, port int) (int, error) {
	p, err := spawn(def, port, m.cfg.BinaryDir)
	if err != nil {
		return 0, fmt.Errorf("spawn agent %s: %w", def.Name, err)
	}
	m.mu.Lock()
	m.procs[p.pid] = p
	m.mu.Unlock()
	go func() {
		<-p.done
		m.mu.Lock()
		delete(m.procs, p.pid)
		m.mu.Unlock()
	}()

	m.logger.InfoContext(ctx, "agent process spawned",
		slog.String("agent_name", def.Name),
		slog.Int("pid", p.pid),
		slog.Int("port", port),
	)
	row := &ServiceModel{AgentName: def.Name, State: string(StateRunning), PID: p.pid, Port: port, StartedAt: m.now()}
	if err := m.save(ctx, row); err != nil {
		return p.pid, err
	}
	return p.pid, nil
}

// VerifyStartup dials 127.0.0.1:port until the agent accepts a connection.
// When it never does, the record moves to Failed with the cause.
func (m *Manager) VerifyStartup(ctx context.Context, name string, port int) error {
	ctx, span := m.tracer.Start(ctx, "agentcore.lifecycle.VerifyStartup",
		trace.WithAttributes(attribute.String("agent.name", name), attribute.Int("agent.port", port)))
	defer span.End()

	row, err := m.record(ctx, name)
	if err != nil {
		return err
	}
	if row == nil {
		return agentcore.NewNotFoundError("agent service", name)
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	errExited := errors.New("process exited before accepting connections")
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		conn, err := (&net.Dialer{Timeout: m.cfg.DialTimeout}).DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return struct{}{}, nil
		}
		if row.PID > 0 && !m.alive(row.PID) {
			return struct{}{}, backoff.Permanent(errExited)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.VerifyInterval)),
		backoff.WithMaxTries(uint(m.cfg.VerifyAttempts)),
	)
	if err == nil {
		m.logger.InfoContext(ctx, "agent accepting connections", slog.String("agent_name", name), slog.Int("port", port))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	reason := errExited.Error()
	if !errors.Is(err, errExited) {
		if row.PID > 0 && m.alive(row.PID) {
			reason = fmt.Sprintf("process alive but not accepting connections on port %d after %d attempts", port, m.cfg.VerifyAttempts)
		} else {
			reason = fmt.Sprintf("process not running: %v", err)
		}
	}
	span.SetStatus(codes.Error, reason)
	if err := m.markFailed(ctx, row, reason); err != nil {
		return err
	}
	return &UnavailableError{AgentName: name, State: StateFailed, Reason: reason}
}

// Start runs name's binary: it frees the port, spawns the process and
// verifies it. A process that fails verification is stopped.
func (m *Manager) Start(ctx context.Context, name string) error {
	def, err := m.agents.Get(name)
	if err != nil {
		return err
	}
	if def.Binary == "" {
		return agentcore.NewValidationError("binary", fmt.Sprintf("agent %s has no binary to start", name))
	}
	if st, err := m.Status(ctx, name); err != nil {
		return err
	} else if st.State == StateRunning && m.alive(st.PID) {
		return nil
	}

	if err := m.ValidatePrerequisites(ctx, name, def.Port); err != nil {
		row := &ServiceModel{AgentName: name, Port: def.Port, StartedAt: m.now()}
		if ferr := m.markFailed(ctx, row, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	pid, err := m.SpawnDetachedProcess(ctx, def, def.Port)
	if err != nil {
		row := &ServiceModel{AgentName: name, PID: pid, Port: def.Port, StartedAt: m.now()}
		if ferr := m.markFailed(ctx, row, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	if err := m.VerifyStartup(ctx, name, def.Port); err != nil {
		if m.alive(pid) {
			if terr := m.terminate(context.WithoutCancel(ctx), pid); terr != nil {
				m.logger.WarnContext(ctx, "stop unresponsive agent", slog.String("agent_name", name), slog.Any("error", terr))
			}
		}
		return err
	}
	return nil
}

// Stop terminates name's process, escalating from SIGTERM to SIGKILL after
// a grace period, and records it as stopped.
func (m *Manager) Stop(ctx context.Context, name string) error {
	row, err := m.record(ctx, name)
	if err != nil {
		return err
	}
	if row == nil || State(row.State) == StateStopped {
		return nil
	}
	if row.PID > 0 && m.alive(row.PID) {
		if err := m.terminate(ctx, row.PID); err != nil {
			return err
		}
	}
	row.State, row.Reason = string(StateStopped), ""
	m.logger.InfoContext(ctx, "agent stopped", slog.String("agent_name", name), slog.Int("pid", row.PID))
	return m.save(ctx, row)
}

// ReclaimOrphans marks Running records whose process is gone as Orphaned
// and returns their agent names.
func (m *Manager) ReclaimOrphans(ctx context.Context) ([]string, error) {
	var rows []ServiceModel
	if err := m.db.WithContext(ctx).Where("state = ?", string(StateRunning)).Order("agent_name").Find(&rows).Error; err != nil {
		return nil, agentcore.NewPersistenceError("lifecycle.reclaim_orphans", err)
	}
	var out []string
	for i := range rows {
		row := &rows[i]
		if row.PID > 0 && m.alive(row.PID) {
			continue
		}
		row.State, row.Reason = string(StateOrphaned), fmt.Sprintf("process %d not running", row.PID)
		if err := m.save(ctx, row); err != nil {
			return out, err
		}
		m.logger.WarnContext(ctx, "agent orphaned", slog.String("agent_name", row.AgentName), slog.Int("pid", row.PID))
		out = append(out, row.AgentName)
	}
	return out, nil
}

// StartAll starts every agent that declares a binary. Failures are
// recorded and logged; the first one is returned after all were tried.
func (m *Manager) StartAll(ctx context.Context) error {
	var first error
	for _, def := range m.agents.List() {
		if def.Binary == "" {
			continue
		}
		if err := m.Start(ctx, def.Name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StopAll stops every process this manager spawned.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, def := range m.agents.List() {
		if def.Binary == "" {
			continue
		}
		if err := m.Stop(ctx, def.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// alive reports whether pid runs. Processes spawned here count as gone as
// soon as they have been reaped.
func (m *Manager) alive(pid int) bool {
	m.mu.Lock()
	p, ours := m.procs[pid]
	m.mu.Unlock()
	if ours {
		select {
		case <-p.done:
			return false
		default:
		}
	}
	return processAlive(pid)
}

// terminate sends SIGTERM to pid's group and SIGKILL after the grace period.
func (m *Manager) terminate(ctx context.Context, pid int) error {
	if err := signalGroup(pid, sigterm); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	deadline := time.NewTimer(stopGrace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for m.alive(pid) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			m.logger.WarnContext(ctx, "agent ignored SIGTERM, killing", slog.Int("pid", pid))
			if err := signalGroup(pid, sigkill); err != nil {
				return fmt.Errorf("kill pid %d: %w", pid, err)
			}
			return m.waitGone(ctx, pid)
		case <-tick.C:
		}
	}
	return nil
}

func (m *Manager) waitGone(ctx context.Context, pid int) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for m.alive(pid) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
