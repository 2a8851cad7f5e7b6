package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImmediate(t *testing.T) {
	called := false
	Immediate{}.Dispatch(func() { called = true })
	assert.True(t, called)
}

func TestLoop_FIFOOnOneGoroutine(t *testing.T) {
	l := NewLoop(nil)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Dispatch(func() { got = append(got, i) })
	}
	l.Close()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestLoop_ConcurrentDispatchAndPanics(t *testing.T) {
	l := NewLoop(nil)

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Dispatch(func() {
					mu.Lock()
					count++
					mu.Unlock()
				})
			}
			l.Dispatch(func() { panic("observer bug") })
		}()
	}
	wg.Wait()
	l.Close()

	assert.Equal(t, 100, count)
}

func TestLoop_DropsAfterClose(t *testing.T) {
	l := NewLoop(nil)
	l.Close()

	called := false
	l.Dispatch(func() { called = true })
	l.Close()
	assert.False(t, called)
}
