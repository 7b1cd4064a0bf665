// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// The worker package implements a worker pool pattern with:
//   - Generic type support (Go 1.18+) for type-safe work processing
//   - Bounded queues with backpressure (non-blocking submit)
//   - Context-aware cancellation and graceful shutdown
//   - Always-on statistics plus optional Prometheus metrics
//   - Configurable worker count and queue sizing
//
// # Usage
//
// A pool processes any work type T without type assertions:
//
//	pool := worker.NewPool[CopyTask](
//	    4,   // workers
//	    256, // queue size
//	    func(ctx context.Context, task CopyTask) error {
//	        return copyFile(ctx, task.Source, task.Dest)
//	    },
//	)
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(CopyTask{Source: src, Dest: dst}); err != nil {
//	    // queue full or pool stopped; the task is retried on the next tick
//	}
//
// Submit never blocks: when the queue is full the item is dropped and
// ErrQueueFull returned, leaving backpressure handling to the caller.
//
// # Metrics
//
// With WithMetrics the pool registers queue depth, utilization, throughput
// and per-status processing duration under the given prefix:
//
//	pool := worker.NewPool[CopyTask](4, 256, process,
//	    worker.WithMetrics[CopyTask](registry, "incidentwatch_intake"),
//	)
//
// Stats() returns the always-on counters regardless of metrics wiring.
package worker
