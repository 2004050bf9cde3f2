package whitelist

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

func TestGrantLatestWins(t *testing.T) {
	w := New()
	w.Grant("com.video", t0.Add(10*time.Minute))
	w.Grant("com.video", t0.Add(2*time.Minute))

	expiry, ok := w.Expiry("com.video")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Minute), expiry)
	assert.Equal(t, 1, w.Len())
}

func TestActiveBoundary(t *testing.T) {
	w := New()
	w.Grant("com.video", t0)

	assert.True(t, w.Active("com.video", t0.Add(-time.Nanosecond)))
	assert.False(t, w.Active("com.video", t0), "grant lapses at its expiry instant")
	assert.False(t, w.Active("com.other", t0.Add(-time.Hour)))
}

func TestSweep(t *testing.T) {
	w := New()
	w.Grant("a", t0.Add(-time.Minute))
	w.Grant("b", t0)
	w.Grant("c", t0.Add(time.Minute))
	w.Grant("d", t0.Add(-time.Second))

	removed := w.Sweep(t0)

	assert.Equal(t, []string{"a", "d"}, removed)
	assert.Equal(t, 2, w.Len())
	_, ok := w.Expiry("b")
	assert.True(t, ok, "entry expiring exactly now is kept by the sweep")
	assert.Empty(t, w.Sweep(t0))
}

func TestSnapshotAndClear(t *testing.T) {
	w := New()
	w.Grant("b", t0)
	w.Grant("a", t0.Add(time.Minute))

	snap := w.Snapshot()
	assert.Equal(t, []Entry{{AppID: "a", ExpiresAt: t0.Add(time.Minute)}, {AppID: "b", ExpiresAt: t0}}, snap)

	w.Revoke("a")
	assert.Equal(t, 1, w.Len())
	w.Clear()
	assert.Equal(t, 0, w.Len())
}

func TestSweepNeverKeepsLapsedEntries(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("after a sweep every stored entry expires at or after now", prop.ForAll(
		func(offsets []int64, at int64) bool {
			w := New()
			for i, off := range offsets {
				w.Grant(string(rune('a'+i%26)), t0.Add(time.Duration(off)*time.Second))
			}
			now := t0.Add(time.Duration(at) * time.Second)
			w.Sweep(now)
			for _, e := range w.Snapshot() {
				if e.ExpiresAt.Before(now) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(-3600, 3600)),
		gen.Int64Range(-3600, 3600),
	))

	properties.TestingRun(t)
}
