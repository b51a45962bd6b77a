package watchdog

import "syscall"

// SyscallKiller is the production ProcessKiller: SIGKILL to pid's entire
// process group, matching jackd's watchdog_thread (original_source
// engine.c: kill(-engine->current_client->control->pid, SIGKILL)). Like
// the rest of this engine, it assumes a POSIX process model — there is
// no portable cross-platform rendering of "kill a process group."
type SyscallKiller struct{}

func (SyscallKiller) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}
