package device

import "context"

// Transfer moves src to dstDevice through the runtime's peer-copy path.
//
// The call blocks the calling goroutine until the copy completes, but holds
// no process-wide lock: other goroutines keep running for the duration, which
// is the whole point of doing the copy on an independent OS thread. There is
// no retry, no partial-progress reporting and no cancellation once the copy
// has started; runtime errors propagate synchronously and unmodified.
func Transfer(ctx context.Context, rt Runtime, src Tensor, dstDevice int) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	return rt.CopyPeer(ctx, src, dstDevice)
}
