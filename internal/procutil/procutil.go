// Package procutil signals subprocess trees. Python snippets may spawn
// children; killing only the direct child would leak them, so commands run
// in their own process group and the whole group is signalled.
package procutil

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// SetGroup places the command in its own process group. Must be called
// before Start.
func SetGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillGroup signals the command's process group. A group that already exited
// is not an error.
func KillGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Terminate escalates SIGTERM then SIGKILL against the command's group.
// waitCh must carry the cmd.Wait result. Returns once the process exited or
// the post-SIGKILL wait expired.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if err := KillGroup(cmd, syscall.SIGTERM); err != nil {
		return err
	}
	if grace > 0 {
		select {
		case <-waitCh:
			return nil
		case <-time.After(grace):
		}
	}
	if err := KillGroup(cmd, syscall.SIGKILL); err != nil {
		return err
	}
	select {
	case <-waitCh:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("timed out waiting for process exit after SIGKILL")
	}
}

// ProcFSAvailable reports whether procfs is available for process
// introspection.
func ProcFSAvailable() bool {
	_, err := os.Stat("/proc/self/stat")
	return err == nil
}

// PIDAlive reports whether a process exists and is not a zombie.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if PIDZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// PIDZombie checks whether a PID is in a zombie/dead state.
func PIDZombie(pid int) bool {
	if !ProcFSAvailable() {
		return pidZombieFromPS(pid)
	}
	statPath := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	b, err := os.ReadFile(statPath)
	if err != nil {
		return false
	}
	line := string(b)
	closeIdx := strings.LastIndexByte(line, ')')
	if closeIdx < 0 || closeIdx+2 >= len(line) {
		return false
	}
	state := line[closeIdx+2]
	return state == 'Z' || state == 'X'
}

func pidZombieFromPS(pid int) bool {
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	state := strings.TrimSpace(string(out))
	if state == "" {
		return false
	}
	c := state[0]
	return c == 'Z' || c == 'X'
}
