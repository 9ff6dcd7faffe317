package bridge

import (
	"log/slog"

	"github.com/dop251/goja"
)

// rejectionTracker collects promises rejected without a handler during a
// job and reports the ones still unhandled when the job ends.
type rejectionTracker struct {
	b       *Bridge
	pending []*goja.Promise
}

func newRejectionTracker(b *Bridge) *rejectionTracker {
	return &rejectionTracker{b: b}
}

func (t *rejectionTracker) track(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		t.pending = append(t.pending, p)
	case goja.PromiseRejectionHandle:
		for i, q := range t.pending {
			if q == p {
				t.pending = append(t.pending[:i], t.pending[i+1:]...)
				break
			}
		}
	}
}

func (t *rejectionTracker) flush(vm *goja.Runtime) {
	if len(t.pending) == 0 {
		return
	}
	pending := t.pending
	t.pending = nil
	for _, p := range pending {
		if p.State() != goja.PromiseStateRejected {
			continue
		}
		je := t.b.fromThrown(vm, p.Result(), nil)
		if _, muted := t.b.muted[je.File]; muted && je.File != "" {
			t.b.logger.Debug("unhandled rejection from muted source", slog.String("file", je.File), slog.Any("error", je))
			continue
		}
		t.b.reportUnhandled(je)
	}
}
