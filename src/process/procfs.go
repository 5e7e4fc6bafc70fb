package process

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// isProcessRunning reports whether pid exists and is not a zombie/dead
// process, by signalling it and then inspecting /proc/<pid>/stat.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}

	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	data, err := os.ReadFile(statPath)
	if err != nil {
		// Non-Linux or the process just exited; signal-0 success is the
		// best we can do without /proc.
		return true
	}

	statStr := string(data)
	closeParenIdx := strings.LastIndex(statStr, ")")
	if closeParenIdx == -1 || closeParenIdx+2 >= len(statStr) {
		return false
	}
	state := statStr[closeParenIdx+2]
	return state != 'Z' && state != 'X'
}

// verifyProcessCommand checks that the running process's /proc/<pid>/cmdline
// plausibly matches expectedCommand, for ownership verification when
// adopting an orphaned record at startup.
func verifyProcessCommand(pid int, expectedCommand string) bool {
	if pid <= 0 || expectedCommand == "" {
		return false
	}

	cmdlinePath := fmt.Sprintf("/proc/%d/cmdline", pid)
	data, err := os.ReadFile(cmdlinePath)
	if err != nil {
		// Without /proc we cannot verify; assume it matches rather than
		// discard a potentially live orphan.
		return true
	}

	actualCmd := strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	if actualCmd == "" {
		return true
	}
	firstToken := strings.Split(actualCmd, " ")[0]
	return strings.Contains(actualCmd, expectedCommand) || strings.Contains(expectedCommand, firstToken)
}

// verifyProcessHealth does deeper liveness checks beyond existence, reading
// /proc/<pid>/status where available.
func verifyProcessHealth(pid int) bool {
	if !isProcessRunning(pid) {
		return false
	}

	statusPath := fmt.Sprintf("/proc/%d/status", pid)
	data, err := os.ReadFile(statusPath)
	if err != nil {
		return true
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "State:") {
			return !strings.Contains(line, "Z (zombie)")
		}
	}
	return true
}

// isDescendant reports whether pid is a descendant of the calling process by
// walking /proc/<pid>/status's PPid chain up to our own PID or to init.
func isDescendant(pid int) bool {
	self := os.Getpid()
	seen := map[int]bool{}
	for pid > 1 && !seen[pid] {
		seen[pid] = true
		if pid == self {
			return true
		}
		ppid, ok := parentPID(pid)
		if !ok {
			return false
		}
		pid = ppid
	}
	return false
}

func parentPID(pid int) (int, bool) {
	statusPath := fmt.Sprintf("/proc/%d/status", pid)
	data, err := os.ReadFile(statusPath)
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PPid:") {
			var ppid int
			if _, err := fmt.Sscanf(strings.TrimSpace(strings.TrimPrefix(line, "PPid:")), "%d", &ppid); err == nil {
				return ppid, true
			}
		}
	}
	return 0, false
}
