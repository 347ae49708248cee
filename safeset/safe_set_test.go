package safeset

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[uint32]()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
	assert.Empty(t, s.Values())
}

func TestSafeSet_Add_Remove(t *testing.T) {
	s := NewSafeSet[uint32]()

	t.Run("add reports new membership", func(t *testing.T) {
		assert.True(t, s.Add(1))
		assert.False(t, s.Add(1))
		assert.True(t, s.Contains(1))
		assert.Equal(t, 1, s.Size())
	})

	t.Run("remove reports previous membership", func(t *testing.T) {
		assert.True(t, s.Remove(1))
		assert.False(t, s.Remove(1))
		assert.False(t, s.Contains(1))
	})
}

func TestSafeSet_Values(t *testing.T) {
	s := NewSafeSet[uint32]()
	s.Add(3)
	s.Add(1)
	s.Add(2)

	values := s.Values()
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	assert.Equal(t, []uint32{1, 2, 3}, values)

	t.Run("snapshot can be used to modify the set", func(t *testing.T) {
		for _, v := range s.Values() {
			s.Remove(v)
		}
		assert.Equal(t, 0, s.Size())
	})
}

func TestSafeSet_Reset(t *testing.T) {
	s := NewSafeSet[int]()
	s.Add(1)
	s.Add(2)

	s.Reset()
	assert.Equal(t, 0, s.Size())

	s.Add(3)
	assert.Equal(t, 1, s.Size())
	assert.True(t, s.Contains(3))
}

func TestSafeSet_Range(t *testing.T) {
	s := NewSafeSet[string]()
	s.Add("a")
	s.Add("b")
	s.Add("c")

	t.Run("iterates all elements", func(t *testing.T) {
		seen := make(map[string]bool)
		s.Range(func(v string) bool {
			seen[v] = true
			return true
		})
		assert.Len(t, seen, 3)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		count := 0
		s.Range(func(string) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})
}

func TestSafeSet_Concurrent(t *testing.T) {
	s := NewSafeSet[int]()
	const goroutines = 50
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				v := id*opsPerGoroutine + i
				s.Add(v)
				s.Contains(v)
				_ = s.Values()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*opsPerGoroutine, s.Size())

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				s.Remove(id*opsPerGoroutine + i)
				s.Size()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Size())
}
