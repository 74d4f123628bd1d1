package supervisor

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"
)

// ProcessHandshaker is the default handshake implementation. The engine does
// not speak the host's messaging protocol itself, so acknowledgment is
// approximated by liveness: the kernel process must survive a settle window
// after startup with its connection file still present. Hosts embedding the
// engine substitute a Handshaker wired to their real transport.
type ProcessHandshaker struct {
	// Settle is how long the process must stay alive. Default 2s.
	Settle time.Duration

	// Poll is the liveness polling interval. Default 100ms.
	Poll time.Duration
}

// Await blocks until the settle window elapses with the process alive, the
// process dies (handshake failure), or ctx expires (handshake timeout).
func (h *ProcessHandshaker) Await(ctx context.Context, connectionFile string, pid int) error {
	settle := h.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}
	poll := h.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	deadline := time.NewTimer(settle)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
			if !processAlive(pid) {
				return errors.New("kernel process exited before completing the handshake")
			}
			if _, err := os.Stat(connectionFile); err != nil {
				return errors.New("connection file disappeared during the handshake")
			}
		}
	}
}

// processAlive checks liveness with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
