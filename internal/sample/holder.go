package sample

import "sync/atomic"

// Holder publishes the current library to concurrent readers. Re-ingestion
// builds a complete new library and swaps it in one step, so readers see
// either the old or the new vocabulary, never a partial one.
type Holder struct {
	lib atomic.Pointer[Library]
}

func NewHolder(lib *Library) *Holder {
	h := &Holder{}
	h.lib.Store(lib)
	return h
}

func (h *Holder) Current() *Library {
	return h.lib.Load()
}

func (h *Holder) Swap(lib *Library) {
	h.lib.Store(lib)
}
