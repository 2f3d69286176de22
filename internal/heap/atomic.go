package heap

import "sync/atomic"

func loadWord(w *uint64) uint64 { return atomic.LoadUint64(w) }

func casWord(w *uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(w, old, new)
}
