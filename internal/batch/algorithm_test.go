package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowroute/internal/model"
)

func TestAlgorithms(t *testing.T) {
	tests := []struct {
		name     string
		alg      Algorithm
		count    int
		boundary bool
		want     bool
	}{
		{"default below size at boundary", Default, 1, true, false},
		{"default at size mid transaction", Default, 2, false, false},
		{"default at size at boundary", Default, 2, true, true},
		{"default over size at boundary", Default, 5, true, true},
		{"transactional at boundary", Transactional, 1, true, true},
		{"transactional mid transaction", Transactional, 9, false, false},
		{"nontransactional at size", NonTransactional, 2, false, true},
		{"nontransactional below size", NonTransactional, 1, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := model.NewPassContext(model.Channel{ID: "c", MaxBatchSize: 2})
			pc.TransactionBoundary = tt.boundary
			b := &model.OutgoingBatch{EventCount: tt.count}
			assert.Equal(t, tt.want, tt.alg.IsComplete(b, model.ChangeRecord{}, pc))
		})
	}
}

func TestAlgorithms_ZeroSizeNeverCompletesBySize(t *testing.T) {
	pc := model.NewPassContext(model.Channel{ID: "c"})
	pc.TransactionBoundary = true
	b := &model.OutgoingBatch{EventCount: 1_000_000}
	assert.False(t, NonTransactional.IsComplete(b, model.ChangeRecord{}, pc))
	assert.False(t, Default.IsComplete(b, model.ChangeRecord{}, pc))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{AlgorithmDefault, AlgorithmNonTransactional, AlgorithmTransactional}, r.Names())

	alg, ok := r.Lookup("")
	require.True(t, ok)
	assert.NotNil(t, alg)

	_, ok = r.Lookup("bogus")
	assert.False(t, ok)

	r.Register("always", AlgorithmFunc(func(*model.OutgoingBatch, model.ChangeRecord, *model.PassContext) bool { return true }))
	_, ok = r.Lookup("always")
	assert.True(t, ok)
}
