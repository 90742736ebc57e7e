// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/config"
)

const helperEnv = "AGENTCORE_LIFECYCLE_HELPER"

// TestMain lets the test binary double as an agent process.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "exit":
		return 3
	case "mute":
		time.Sleep(time.Minute)
		return 0
	case "listen", "stubborn":
		if mode == "stubborn" {
			signal.Ignore(syscall.SIGTERM)
		}
		l, err := net.Listen("tcp", "127.0.0.1:"+os.Getenv("PORT"))
		if err != nil {
			return 1
		}
		defer l.Close()
		for {
			c, err := l.Accept()
			if err != nil {
				return 0
			}
			c.Close()
		}
	}
	return 2
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func helperAgent(name, mode string, port int) agent.Definition {
	return agent.Definition{
		Name:   name,
		Port:   port,
		Binary: os.Args[0],
		Env:    map[string]string{helperEnv: mode},
	}
}

func newManager(t *testing.T, db *gorm.DB, defs ...agent.Definition) *Manager {
	t.Helper()
	reg, err := agent.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m, err := NewManager(context.Background(), ManagerConfig{
		DB:          db,
		AutoMigrate: true,
		Agents:      reg,
		Lifecycle: config.LifecycleConfig{
			VerifyAttempts: 20,
			VerifyInterval: 50 * time.Millisecond,
			DialTimeout:    200 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m
}

var ignoreReason = cmpopts.IgnoreFields(Status{}, "PID", "Reason")

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	m := newManager(t, openTestDB(t), helperAgent("echo", "listen", port))

	if err := m.Start(ctx, "echo"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := m.Status(ctx, "echo")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&Status{AgentName: "echo", State: StateRunning, Port: port}, st, ignoreReason); diff != "" {
		t.Errorf("Status after Start mismatch (-want +got):\n%s", diff)
	}
	if !processAlive(st.PID) {
		t.Errorf("pid %d not alive after Start", st.PID)
	}
	if err := m.CheckAvailable(ctx, "echo"); err != nil {
		t.Errorf("CheckAvailable(running) = %v", err)
	}
	// Starting a running agent is a no-op.
	if err := m.Start(ctx, "echo"); err != nil {
		t.Errorf("second Start: %v", err)
	}

	if err := m.Stop(ctx, "echo"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.alive(st.PID) {
		t.Errorf("pid %d still alive after Stop", st.PID)
	}
	err = m.CheckAvailable(ctx, "echo")
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.State != StateStopped || agentcore.KindOf(err) != agentcore.KindInvalidTaskState {
		t.Errorf("CheckAvailable(stopped) = %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the SIGTERM grace period")
	}
	ctx := context.Background()
	port := freePort(t)
	m := newManager(t, openTestDB(t), helperAgent("stubborn", "stubborn", port))
	if err := m.Start(ctx, "stubborn"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, _ := m.Status(ctx, "stubborn")
	if err := m.Stop(ctx, "stubborn"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.alive(st.PID) {
		t.Errorf("pid %d survived SIGKILL", st.PID)
	}
}

func TestStartFailures(t *testing.T) {
	tests := map[string]struct {
		mode       string
		wantReason string
	}{
		"ProcessExits":  {mode: "exit", wantReason: "process exited before accepting connections"},
		"NeverListens":  {mode: "mute", wantReason: "process alive but not accepting connections"},
		"UnknownHelper": {mode: "bogus", wantReason: "process exited before accepting connections"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			port := freePort(t)
			def := helperAgent("agent", tt.mode, port)
			reg, err := agent.NewRegistry(def)
			if err != nil {
				t.Fatal(err)
			}
			m, err := NewManager(ctx, ManagerConfig{
				DB:          openTestDB(t),
				AutoMigrate: true,
				Agents:      reg,
				Lifecycle:   config.LifecycleConfig{VerifyAttempts: 3, VerifyInterval: 100 * time.Millisecond, DialTimeout: 100 * time.Millisecond},
			})
			if err != nil {
				t.Fatal(err)
			}

			err = m.Start(ctx, "agent")
			var ue *UnavailableError
			if !errors.As(err, &ue) {
				t.Fatalf("Start error = %v, want UnavailableError", err)
			}
			st, err := m.Status(ctx, "agent")
			if err != nil {
				t.Fatal(err)
			}
			if st.State != StateFailed || !strings.HasPrefix(st.Reason, tt.wantReason) {
				t.Errorf("Status = %+v, want failed with %q", st, tt.wantReason)
			}
			if m.alive(st.PID) {
				t.Errorf("unresponsive pid %d left running", st.PID)
			}
			if err := m.CheckAvailable(ctx, "agent"); err == nil {
				t.Error("CheckAvailable(failed) = nil")
			}
		})
	}
}

func TestStartWithoutBinary(t *testing.T) {
	m := newManager(t, openTestDB(t), agent.Definition{Name: "inproc"})
	if err := m.Start(context.Background(), "inproc"); agentcore.KindOf(err) != agentcore.KindValidation {
		t.Errorf("Start(inproc) = %v, want validation error", err)
	}
	if err := m.CheckAvailable(context.Background(), "inproc"); err != nil {
		t.Errorf("CheckAvailable(inproc) = %v", err)
	}
}

func TestValidatePrerequisites(t *testing.T) {
	ctx := context.Background()

	t.Run("FreePort", func(t *testing.T) {
		m := newManager(t, openTestDB(t))
		if err := m.ValidatePrerequisites(ctx, "a", freePort(t)); err != nil {
			t.Errorf("ValidatePrerequisites(free) = %v", err)
		}
	})

	t.Run("UnrelatedProcess", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer l.Close()
		m := newManager(t, openTestDB(t))
		err = m.ValidatePrerequisites(ctx, "a", l.Addr().(*net.TCPAddr).Port)
		if agentcore.KindOf(err) != agentcore.KindValidation {
			t.Errorf("ValidatePrerequisites(held) = %v, want validation error", err)
		}
	})

	t.Run("ReclaimsStaleAgent", func(t *testing.T) {
		port := freePort(t)
		db := openTestDB(t)
		old := newManager(t, db, helperAgent("old", "listen", port))
		if err := old.Start(ctx, "old"); err != nil {
			t.Fatalf("Start(old): %v", err)
		}
		stale, _ := old.Status(ctx, "old")

		m := newManager(t, db, helperAgent("new", "listen", port))
		if err := m.ValidatePrerequisites(ctx, "new", port); err != nil {
			t.Fatalf("ValidatePrerequisites: %v", err)
		}
		if !portFree(port) {
			t.Error("port still held")
		}
		st, _ := m.Status(ctx, "old")
		if st.State != StateStopped || st.Reason != "reclaimed port "+strconv.Itoa(port) {
			t.Errorf("stale record = %+v", st)
		}
		if old.alive(stale.PID) {
			t.Errorf("stale pid %d still alive", stale.PID)
		}
	})
}

func TestReclaimOrphans(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := newManager(t, db)
	now := time.Now()
	rows := []ServiceModel{
		{AgentName: "alive", State: string(StateRunning), PID: os.Getpid(), Port: 1, StartedAt: now},
		{AgentName: "dead", State: string(StateRunning), PID: 0, Port: 2, StartedAt: now},
		{AgentName: "done", State: string(StateStopped), PID: 0, Port: 3, StartedAt: now},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatal(err)
	}

	got, err := m.ReclaimOrphans(ctx)
	if err != nil {
		t.Fatalf("ReclaimOrphans: %v", err)
	}
	if diff := cmp.Diff([]string{"dead"}, got); diff != "" {
		t.Errorf("orphans mismatch (-want +got):\n%s", diff)
	}

	want := map[string]State{"alive": StateRunning, "dead": StateOrphaned, "done": StateStopped, "never": StateNotStarted}
	for name, state := range want {
		st, err := m.Status(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if st.State != state {
			t.Errorf("Status(%s) = %s, want %s", name, st.State, state)
		}
	}
	if err := m.CheckAvailable(ctx, "dead"); err == nil {
		t.Error("CheckAvailable(orphaned) = nil")
	}
}
