package eventcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgewasm/eventcore/internal/eventqueue"
)

// runWorker is one dispatch worker's loop (C4): drain a batch, dispatch
// each event, repeat, until the queue is disposed out from under it. It
// corresponds to event_processor_thread in the original source, with the
// §9 target-selection fix applied: the target module comes from
// Event.Owner, never from the ambient current-module pointer.
func (r *Runtime) runWorker(ctx context.Context, id int) error {
	log := r.logger.With(zap.Int("worker", id))
	log.Info("dispatch worker started")
	defer log.Info("dispatch worker stopped")

	for {
		batch, err := r.queue.Drain(r.config.BatchSize)
		if err != nil {
			if err == eventqueue.ErrClosed {
				return nil
			}
			return err
		}

		for _, ev := range batch {
			r.dispatchOne(ctx, log, ev)
		}
	}
}

// dispatchOne executes the §4.4 dispatch protocol for a single event.
// Errors are logged and the event is dropped; nothing is ever propagated
// back to the original poster (§7's propagation policy).
func (r *Runtime) dispatchOne(ctx context.Context, log *zap.Logger, ev Event) {
	if !ev.Type.valid() {
		log.Error("dropping event with invalid type", zap.Uint32("type", uint32(ev.Type)))
		return
	}

	target := r.registry.find(ev.Owner)
	if target == nil {
		log.Warn("dropping event for unregistered module", zap.Stringer("type", ev.Type))
		return
	}

	target.mu.Lock()
	execEnv := target.execEnv
	dispatcher := target.dispatchers[ev.Type]
	target.mu.Unlock()

	if dispatcher == nil {
		log.Warn("dropping event with no bound dispatcher", zap.Stringer("type", ev.Type))
		return
	}

	log.Debug("dispatching event",
		zap.Stringer("type", ev.Type), zap.Uint32("id", ev.ID),
		zap.Uint32("port", ev.Port), zap.Uint32("state", ev.State))

	callCtx := withCurrentModule(ctx, ev.Owner)

	success := false
	for attempt := 0; attempt < r.config.MaxDispatchRetries && !success; attempt++ {
		ok, err := execEnv.Call(callCtx, dispatcher, ev.args()...)
		if err != nil {
			log.Error("guest call failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return
		}
		if ok {
			success = true
			break
		}

		log.Warn("guest exception, retrying",
			zap.String("exception", execEnv.LastException()), zap.Int("attempt", attempt+1))
		execEnv.ClearException()
		time.Sleep(r.config.RetryDelay)
	}

	if !success {
		log.Error("event processing failed after max retries",
			zap.Int("retries", r.config.MaxDispatchRetries), zap.Stringer("type", ev.Type))
		return
	}

	target.touch()
	log.Debug("event processed", zap.Stringer("type", ev.Type), zap.Uint32("id", ev.ID))
}
