package pipeline

import "github.com/mediamask/mediamask/pkg/models"

// result is a worker's output for one frame
type result struct {
	frame        *models.Frame
	faces        int
	plates       int
	detectFailed bool
	err          error // job-fatal worker error; frame is discarded
}

// reorderBuffer re-sequences out-of-order worker results back into
// strict index order. Workers complete in arbitrary order; the buffer
// holds completed-but-not-yet-releasable results keyed by index and
// releases the longest contiguous run starting at the next expected
// index. The scheduler's in-flight token cap keeps the total number of
// undelivered frames at the queue capacity, so the buffer can never
// park more than that many entries.
type reorderBuffer struct {
	next    int
	pending map[int]*result
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]*result)}
}

// add inserts a completed result and returns the frames now releasable
// in strict index order (possibly none).
func (b *reorderBuffer) add(r *result) []*result {
	b.pending[r.frame.Index] = r

	var run []*result
	for {
		next, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		run = append(run, next)
		b.next++
	}
	return run
}

// size reports how many results are parked out of order
func (b *reorderBuffer) size() int {
	return len(b.pending)
}

// discard drops all parked results. Used on the cancellation path.
func (b *reorderBuffer) discard() {
	b.pending = make(map[int]*result)
}
