package schema

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyAllocator_Sequence(t *testing.T) {
	k := NewKeyAllocator("db")
	for want := int64(1); want <= 5; want++ {
		assert.Equal(t, want, k.Next("a"))
	}
	assert.Equal(t, int64(1), k.Next("b"), "tables are independent")
	assert.Equal(t, int64(1), k.NextFor("other", "a"), "databases are independent")
	assert.Equal(t, int64(5), k.Last("a"))

	k.Reset()
	assert.Equal(t, int64(0), k.Last("a"))
	assert.Equal(t, int64(1), k.Next("a"))
}

func TestKeyAllocator_Concurrent(t *testing.T) {
	k := NewKeyAllocator("db")
	const workers, per = 8, 250

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range per {
				n := k.Next("t")
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
	for i := int64(1); i <= workers*per; i++ {
		assert.True(t, seen[i], "missing key %d", i)
	}
}
