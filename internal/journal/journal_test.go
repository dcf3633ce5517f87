package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(seq uint64) Entry {
	payload, _ := json.Marshal(CycleRecord{Equity: 10000 + float64(seq)})
	return Entry{
		Seq:     seq,
		Time:    time.Date(2024, 3, 1, 9, 0, int(seq), 0, time.UTC),
		Kind:    KindCycle,
		Payload: payload,
	}
}

func TestMemoryTraceIsDeterministic(t *testing.T) {
	a := NewMemory()
	b := NewMemory()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, a.Append(sample(seq)))
		require.NoError(t, b.Append(sample(seq)))
	}
	ta, err := a.Trace()
	require.NoError(t, err)
	tb, err := b.Trace()
	require.NoError(t, err)
	assert.Equal(t, ta, tb)
	assert.Len(t, a.Entries(), 5)
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.Append(sample(seq)))
	}
	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, uint64(1), loaded[0].Seq)
	assert.Equal(t, KindCycle, loaded[0].Kind)
	assert.Equal(t, sample(2).Time, loaded[1].Time)

	var rec CycleRecord
	require.NoError(t, json.Unmarshal(loaded[2].Payload, &rec))
	assert.Equal(t, 10003.0, rec.Equity)
	require.NoError(t, s.Close())
}

func TestMultiFanout(t *testing.T) {
	a := NewMemory()
	b := NewMemory()
	m := Multi{a, b, Discard{}}
	require.NoError(t, m.Append(sample(1)))
	assert.Len(t, a.Entries(), 1)
	assert.Len(t, b.Entries(), 1)
	require.NoError(t, m.Close())
}
