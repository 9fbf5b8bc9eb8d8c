package daemon

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalQueue captures OS signals for deferred processing in the main loop.
type SignalQueue struct {
	C      <-chan os.Signal
	ch     chan os.Signal
	logger *slog.Logger
}

// NewSignalQueue creates a signal queue with a buffer of 16 signals.
// It registers for SIGTERM, SIGINT, SIGQUIT, SIGHUP, and SIGUSR2.
func NewSignalQueue(logger *slog.Logger) *SignalQueue {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGHUP,
		syscall.SIGUSR2,
	)
	return &SignalQueue{
		C:      ch,
		ch:     ch,
		logger: logger,
	}
}

// Stop deregisters signal notifications.
func (sq *SignalQueue) Stop() {
	signal.Stop(sq.ch)
}

// handleSignal processes a signal and returns true if shutdown should begin.
func (d *Daemon) handleSignal(sig os.Signal) bool {
	d.logger.Info("received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
		return true

	case syscall.SIGHUP:
		if _, err := d.reload(); err != nil {
			d.logger.Error("reload failed", "error", err)
		}
		return false

	case syscall.SIGUSR2:
		d.reopenLogs()
		return false

	default:
		d.logger.Warn("unhandled signal", "signal", sig.String())
		return false
	}
}

func (d *Daemon) reopenLogs() {
	d.logger.Info("reopening log files")
	if err := d.logOut.Reopen(); err != nil {
		d.logger.Error("log reopen failed", "error", err)
	}
}
