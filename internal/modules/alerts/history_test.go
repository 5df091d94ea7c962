package alerts

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedAlert(i int, portfolioID string, ts time.Time) Alert {
	return Alert{
		ID:          fmt.Sprintf("a%d", i),
		Type:        AlertTest,
		Severity:    SeverityLow,
		PortfolioID: portfolioID,
		Timestamp:   ts,
		Data:        map[string]interface{}{"n": i},
	}
}

func TestHistoryStore_BoundedNewestFirst(t *testing.T) {
	h := NewHistoryStore(1000)
	base := time.Now()
	for i := 0; i < 1500; i++ {
		h.Append(numberedAlert(i, "p1", base.Add(time.Duration(i)*time.Millisecond)))
	}

	assert.Equal(t, 1000, h.Len())
	all := h.List("", 0)
	require.Len(t, all, 1000)
	assert.Equal(t, "a1499", all[0].ID)
	assert.Equal(t, "a500", all[999].ID)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp))
	}

	_, ok := h.Get("a499")
	assert.False(t, ok, "evicted alert must not be addressable")
	_, ok = h.Get("a500")
	assert.True(t, ok)

	snap := h.Snapshot()
	assert.Equal(t, "a500", snap[0].ID)
	assert.Equal(t, "a1499", snap[999].ID)
}

func TestHistoryStore_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultHistoryCapacity, NewHistoryStore(0).Capacity())
}

func TestHistoryStore_ListFiltersAndLimits(t *testing.T) {
	h := NewHistoryStore(10)
	now := time.Now()
	h.Append(
		numberedAlert(1, "p1", now),
		numberedAlert(2, "p2", now),
		numberedAlert(3, "p1", now),
		numberedAlert(4, "p1", now),
	)

	p1 := h.List("p1", 2)
	require.Len(t, p1, 2)
	assert.Equal(t, "a4", p1[0].ID)
	assert.Equal(t, "a3", p1[1].ID)

	assert.Len(t, h.List("p2", 0), 1)
	assert.NotNil(t, h.List("missing", 5))
	assert.Empty(t, h.List("missing", 5))
}

func TestHistoryStore_Since(t *testing.T) {
	h := NewHistoryStore(10)
	now := time.Now()
	h.Append(
		numberedAlert(1, "p1", now.Add(-48*time.Hour)),
		numberedAlert(2, "p1", now.Add(-time.Hour)),
		numberedAlert(3, "p1", now),
	)

	recent := h.Since(now.Add(-24 * time.Hour))
	require.Len(t, recent, 2)
	assert.Equal(t, "a3", recent[0].ID)
}

func TestHistoryStore_ReadsAreCopies(t *testing.T) {
	h := NewHistoryStore(10)
	h.Append(numberedAlert(1, "p1", time.Now()))

	got := h.List("", 0)
	got[0].Data["n"] = 99
	got[0].Read = true

	again, ok := h.Get("a1")
	require.True(t, ok)
	assert.Equal(t, 1, again.Data["n"])
	assert.False(t, again.Read)
}

func TestHistoryStore_SetFlags(t *testing.T) {
	h := NewHistoryStore(10)
	h.Append(numberedAlert(1, "p1", time.Now()))

	yes := true
	updated, err := h.SetFlags("a1", &yes, nil)
	require.NoError(t, err)
	assert.True(t, updated.Read)
	assert.False(t, updated.Acknowledged)

	updated, err = h.SetFlags("a1", nil, &yes)
	require.NoError(t, err)
	assert.True(t, updated.Read)
	assert.True(t, updated.Acknowledged)

	_, err = h.SetFlags("nope", &yes, &yes)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestHistoryStore_ReusedIDKeepsLatestSlot(t *testing.T) {
	h := NewHistoryStore(2)
	now := time.Now()
	h.Append(numberedAlert(1, "p1", now))
	dup := numberedAlert(1, "p2", now)
	h.Append(dup)
	// evicts the first a1 only; the index must still point at the second
	h.Append(numberedAlert(3, "p1", now))

	got, ok := h.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "p2", got.PortfolioID)
}

func TestHistoryStore_ConcurrentAppendAndRead(t *testing.T) {
	h := NewHistoryStore(100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Append(numberedAlert(w*1000+i, "p1", time.Now()))
				_ = h.List("p1", 10)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 100, h.Len())
}
