package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("alice")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len())
}

func TestLockDifferentKeysIndependent(t *testing.T) {
	l := New()
	unlockA := l.Lock("alice")
	unlockB := l.Lock("bob")
	assert.Equal(t, 2, l.Len())
	unlockA()
	unlockB()
	assert.Equal(t, 0, l.Len())
}
