package alerts

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity is the number of alerts kept when no capacity is configured
const DefaultHistoryCapacity = 1000

// HistoryStore is a bounded ring of alerts. When full, the oldest alert is dropped.
// Readers always receive copies.
type HistoryStore struct {
	buf   []Alert
	index map[string]int // alert id -> slot in buf
	head  int            // slot of the oldest alert
	size  int
	mu    sync.RWMutex
}

// NewHistoryStore creates a history with the given capacity
func NewHistoryStore(capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryStore{
		buf:   make([]Alert, capacity),
		index: make(map[string]int, capacity),
	}
}

// Capacity returns the maximum number of retained alerts
func (h *HistoryStore) Capacity() int {
	return len(h.buf)
}

// Len returns the number of retained alerts
func (h *HistoryStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Append adds alerts in order, evicting the oldest entries beyond capacity
func (h *HistoryStore) Append(alerts ...Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.buf)
	for _, a := range alerts {
		var slot int
		if h.size < capacity {
			slot = (h.head + h.size) % capacity
			h.size++
		} else {
			slot = h.head
			if old := h.buf[slot].ID; h.index[old] == slot {
				delete(h.index, old)
			}
			h.head = (h.head + 1) % capacity
		}
		h.buf[slot] = cloneAlert(a)
		h.index[a.ID] = slot
	}
}

// List returns up to limit alerts for portfolioID, newest first.
// An empty portfolioID matches every portfolio; limit <= 0 returns all matches.
func (h *HistoryStore) List(portfolioID string, limit int) []Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Alert, 0)
	capacity := len(h.buf)
	for i := h.size - 1; i >= 0; i-- {
		a := h.buf[(h.head+i)%capacity]
		if portfolioID != "" && a.PortfolioID != portfolioID {
			continue
		}
		out = append(out, cloneAlert(a))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Snapshot returns every retained alert, oldest first
func (h *HistoryStore) Snapshot() []Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Alert, h.size)
	capacity := len(h.buf)
	for i := 0; i < h.size; i++ {
		out[i] = cloneAlert(h.buf[(h.head+i)%capacity])
	}
	return out
}

// Since returns alerts with Timestamp at or after t, newest first
func (h *HistoryStore) Since(t time.Time) []Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Alert
	capacity := len(h.buf)
	for i := h.size - 1; i >= 0; i-- {
		a := h.buf[(h.head+i)%capacity]
		if a.Timestamp.Before(t) {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return out
}

// Get returns a copy of the alert with the given id
func (h *HistoryStore) Get(id string) (Alert, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	slot, ok := h.index[id]
	if !ok {
		return Alert{}, false
	}
	return cloneAlert(h.buf[slot]), true
}

// SetFlags updates the read and acknowledged flags. Nil arguments leave the flag unchanged.
func (h *HistoryStore) SetFlags(id string, read, acknowledged *bool) (Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, ok := h.index[id]
	if !ok {
		return Alert{}, ErrAlertNotFound
	}
	if read != nil {
		h.buf[slot].Read = *read
	}
	if acknowledged != nil {
		h.buf[slot].Acknowledged = *acknowledged
	}
	return cloneAlert(h.buf[slot]), nil
}

// cloneAlert copies the Data map so callers cannot mutate stored alerts
func cloneAlert(a Alert) Alert {
	if a.Data != nil {
		data := make(map[string]interface{}, len(a.Data))
		for k, v := range a.Data {
			data[k] = v
		}
		a.Data = data
	}
	return a
}
