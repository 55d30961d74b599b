package extract

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGateOrdersCompletions(t *testing.T) {
	const n = 32
	g := newGate(1)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			// Jitter so goroutines reach the gate out of order.
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			if g.wait(num) {
				mu.Lock()
				order = append(order, num)
				mu.Unlock()
			}
			g.done()
		}(i)
	}
	wg.Wait()

	assert.Len(t, order, n)
	for i, num := range order {
		assert.Equal(t, i+1, num)
	}
}

func TestGateAbortReleasesWaiters(t *testing.T) {
	g := newGate(1)

	var wg sync.WaitGroup
	released := make([]bool, 5)
	for i := 2; i <= 5; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			released[num-1] = g.wait(num) == false
			g.done()
		}(i)
	}

	g.abort()
	wg.Wait()

	for i := 2; i <= 5; i++ {
		assert.True(t, released[i-1], "waiter %d must observe the abort", i)
	}
}
