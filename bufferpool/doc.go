// Package bufferpool implements the Shared Port-Buffer Pool: one contiguous
// segment per port type, partitioned into fixed-size buffers, with a FIFO
// free list guarded by a mutex distinct from the graph lock.
//
// Allocation hands out the slot at the front of the free list; release
// returns a slot to the back of the pkg/buffer queue, which — because that
// queue's internal write cursor is itself named "head" — is exactly the
// "release returns to head" policy the spec calls for. The first slot of
// the primary audio type is carved out permanently as the process-wide
// silent buffer and never enters the free list.
package bufferpool
