package orchestrator

// Watermark tracks which event sequence ids have been consumed by a durable
// summary. It is rebuilt from the two logs at startup and never persisted on
// its own, so the logs stay the only source of truth.
type Watermark struct {
	consumed map[uint64]struct{}
	highest  uint64
}

func NewWatermark() *Watermark {
	return &Watermark{
		consumed: make(map[uint64]struct{}),
	}
}

func (w *Watermark) MarkConsumed(seqs []uint64) {
	for _, seq := range seqs {
		w.consumed[seq] = struct{}{}
		if seq > w.highest {
			w.highest = seq
		}
	}
}

func (w *Watermark) IsConsumed(seq uint64) bool {
	_, ok := w.consumed[seq]
	return ok
}

// HighestConsumed returns the largest consumed sequence id, 0 when no
// summary exists yet.
func (w *Watermark) HighestConsumed() uint64 {
	return w.highest
}

func (w *Watermark) ConsumedCount() int {
	return len(w.consumed)
}
