package support

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomLocks_SerializePerRoomAndCleanUp(t *testing.T) {
	locks := newRoomLocks()
	a, b := 0, 0
	counter := map[string]*int{"a": &a, "b": &b}
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := "a"
			if i%2 == 0 {
				room = "b"
			}
			unlock := locks.Lock(room)
			*counter[room]++
			unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
	assert.Equal(t, 0, locks.size(), "idle rooms do not keep a mutex around")
}
