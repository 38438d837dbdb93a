//go:build unix

package watch

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// notifySignals maps SIGUSR1 to focus and SIGUSR2 to reconnect until ctx is
// done or the returned stop function is called.
func (w *Watcher) notifySignals(ctx context.Context) (stop func()) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-sigc:
				switch sig {
				case syscall.SIGUSR1:
					w.client.OnFocus()
				case syscall.SIGUSR2:
					w.client.OnReconnect()
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigc)
		close(done)
	}
}
