package coap

import "time"

// Default duplicate window settings.
const (
	DefaultDuplicateWindowSize   = 10
	DefaultDuplicateWindowExpiry = 30 * time.Second
)

type dupEntry struct {
	addr string
	port uint16
	mid  uint16
	seen time.Time
	used bool
}

// DuplicateWindow remembers recently seen (address, port, message ID)
// tuples. Entries are overwritten in insertion order once the ring is full.
type DuplicateWindow struct {
	entries []dupEntry
	next    int
	expiry  time.Duration
}

// NewDuplicateWindow creates a window holding size entries for expiry.
func NewDuplicateWindow(size int, expiry time.Duration) *DuplicateWindow {
	if size <= 0 {
		size = DefaultDuplicateWindowSize
	}
	if expiry <= 0 {
		expiry = DefaultDuplicateWindowExpiry
	}
	return &DuplicateWindow{
		entries: make([]dupEntry, size),
		expiry:  expiry,
	}
}

// Check reports whether the tuple was seen within the expiry window. A miss
// records the tuple.
func (w *DuplicateWindow) Check(addr string, port uint16, mid uint16, now time.Time) bool {
	for i := range w.entries {
		e := &w.entries[i]
		if !e.used || e.addr != addr || e.port != port || e.mid != mid {
			continue
		}
		if now.Sub(e.seen) < w.expiry {
			return true
		}
		*e = dupEntry{}
	}

	w.entries[w.next] = dupEntry{addr: addr, port: port, mid: mid, seen: now, used: true}
	w.next = (w.next + 1) % len(w.entries)
	return false
}

// Len returns the number of live slots, expired or not.
func (w *DuplicateWindow) Len() int {
	n := 0
	for _, e := range w.entries {
		if e.used {
			n++
		}
	}
	return n
}
