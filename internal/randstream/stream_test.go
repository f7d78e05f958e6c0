package randstream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func draws(s Source, k Key, n int) []uint64 {
	r := s.Stream(k)
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.Uint64()
	}
	return out
}

func TestStreamReproducible(t *testing.T) {
	k := Key{Stage: MCMC, Iteration: 12, Subject: 3, Chain: 0}
	assert.Equal(t, draws(New(1), k, 16), draws(New(1), k, 16))
}

func TestStreamsDiffer(t *testing.T) {
	base := Key{Stage: MCMC, Iteration: 1, Subject: 1, Chain: 0}
	keys := []Key{
		base,
		{Stage: Importance, Iteration: 1, Subject: 1},
		{Stage: MCMC, Iteration: 2, Subject: 1},
		{Stage: MCMC, Iteration: 1, Subject: 2},
		{Stage: MCMC, Iteration: 1, Subject: 1, Chain: 1},
	}
	seen := map[uint64]Key{}
	for _, k := range keys {
		first := New(7).Stream(k).Uint64()
		_, dup := seen[first]
		assert.False(t, dup, "key %+v collides", k)
		seen[first] = k
	}
	assert.NotEqual(t, draws(New(7), base, 4), draws(New(8), base, 4))
}

func TestStreamIndependentOfOrder(t *testing.T) {
	src := New(42)
	want := make([][]uint64, 32)
	for i := range want {
		want[i] = draws(src, Key{Stage: MCMC, Subject: i}, 8)
	}

	got := make([][]uint64, 32)
	var wg sync.WaitGroup
	for i := len(got) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = draws(src, Key{Stage: MCMC, Subject: i}, 8)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, want, got)
}
