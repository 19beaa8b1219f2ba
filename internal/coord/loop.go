package coord

import (
	"context"
	"time"

	"github.com/tandemlabs/tandem/internal/op"
)

// run is the background synchronization loop. One goroutine per
// instance; terminated by cancelling ctx. The ticker select is the
// interruptible sleep, so shutdown never waits out a full interval.
func (in *Instance) run(ctx context.Context) {
	defer close(in.loopDone)

	interval := in.cfg.SyncInterval()
	in.logger.Info("sync loop starting",
		"instance_id", in.cfg.InstanceID,
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("sync loop stopping", "instance_id", in.cfg.InstanceID)
			return
		case <-ticker.C:
			in.syncOnce(ctx)
		}
	}
}

// syncOnce is one loop iteration: reconcile state with peers, drain
// the inbound batch, deliver it to the observer, persist each entry.
// The reconciliation calls are bounded by the sync interval so a slow
// peer cannot stall the loop past its next tick.
func (in *Instance) syncOnce(ctx context.Context) {
	reconCtx, cancel := context.WithTimeout(ctx, in.cfg.SyncInterval())
	defer cancel()

	if err := in.dist.SyncState(reconCtx); err != nil {
		in.logger.Warn("state sync failed",
			"instance_id", in.cfg.InstanceID,
			"error", err,
		)
		in.metrics.SyncError()
		in.reportErr(&DistributionError{Err: err})
	}

	batch, err := in.dist.DrainPending(reconCtx)
	if err != nil {
		in.logger.Warn("drain failed",
			"instance_id", in.cfg.InstanceID,
			"error", err,
		)
		in.metrics.SyncError()
		in.reportErr(&DistributionError{Err: err})
		return
	}
	if batch == nil {
		return
	}
	defer batch.Release()

	ops := batch.Ops()
	if len(ops) == 0 {
		return
	}
	in.logger.Debug("inbound batch drained",
		"instance_id", in.cfg.InstanceID,
		"count", len(ops),
	)

	// Deliver before persisting. The loop holds no lock here, so the
	// observer may call back into the foreground API.
	if fn := in.observer.Load(); fn != nil {
		(*fn)(ops)
	}

	// Best-effort per entry: one failure is reported and the rest of
	// the batch still lands.
	for idx := range ops {
		if err := in.persistInbound(ctx, ops[idx]); err != nil {
			in.logger.Warn("inbound persist failed",
				"instance_id", in.cfg.InstanceID,
				"origin", ops[idx].OriginInstanceID,
				"kind", ops[idx].Kind,
				"error", err,
			)
			in.reportErr(err)
			continue
		}
		in.metrics.OperationReceived()
	}
}

// persistInbound appends one peer-originated operation to the local
// log. The origin id and timestamp travel with the operation; only a
// zero timestamp is stamped on arrival. The append assigns a fresh
// local operation id.
func (in *Instance) persistInbound(ctx context.Context, o op.Operation) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if o.TimestampNanos == 0 {
		in.stampLocked(&o)
	}
	_, err := in.appendLocked(ctx, &o)
	return err
}
