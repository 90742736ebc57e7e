// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/go-a2a/agentcore/agent"
)

const (
	sigterm = unix.SIGTERM
	sigkill = unix.SIGKILL
)

// process is a child spawned by a [Manager]. done is closed once it has
// been reaped.
type process struct {
	pid  int
	done chan struct{}
}

func spawn(def *agent.Definition, port int, binaryDir string) (*process, error) {
	bin := def.Binary
	if !filepath.IsAbs(bin) && binaryDir != "" {
		bin = filepath.Join(binaryDir, bin)
	}
	cmd := exec.Command(bin, def.Args...)
	cmd.Env = append(os.Environ(),
		"AGENT_NAME="+def.Name,
		"PORT="+strconv.Itoa(port),
	)
	keys := make([]string, 0, len(def.Env))
	for k := range def.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+def.Env[k])
	}
	// A new process group keeps the agent alive when the host's terminal
	// group is signaled and lets Stop reach its children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// signalGroup signals pid's process group, falling back to pid alone when it
// does not lead one.
func signalGroup(pid int, sig unix.Signal) error {
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		if err := unix.Kill(-pid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// tcpListen is the st column value of a listening socket.
const tcpListen = 0x0A

// listenerPID finds the process holding a listening socket on port.
func listenerPID(port int) (int, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, err
	}
	inodes := make(map[string]bool)
	for _, read := range []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6} {
		lines, err := read()
		if err != nil {
			continue
		}
		for _, l := range lines {
			if l.LocalPort == uint64(port) && l.St == tcpListen {
				inodes[fmt.Sprintf("socket:[%d]", l.Inode)] = true
			}
		}
	}
	if len(inodes) == 0 {
		return 0, fmt.Errorf("no listener found for port %d", port)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return 0, err
	}
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, t := range targets {
			if inodes[t] {
				return p.PID, nil
			}
		}
	}
	return 0, fmt.Errorf("owner of port %d not visible", port)
}
