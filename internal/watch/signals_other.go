//go:build !unix

package watch

import "context"

func (w *Watcher) notifySignals(context.Context) (stop func()) {
	return func() {}
}
