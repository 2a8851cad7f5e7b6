package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil777/paperwork/pkg/jobs"
)

func TestShutdown_RunsStepsInReverse(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"third", "second", "first"}, order)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed after Shutdown")
	}
}

func TestShutdown_JoinsErrors(t *testing.T) {
	m := New(time.Second, nil)
	boom := errors.New("boom")
	m.Register("ok", func(context.Context) error { return nil })
	m.Register("broken", func(context.Context) error { return boom })

	err := m.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "broken")
}

func TestWait_Trigger(t *testing.T) {
	m := New(time.Second, nil)
	go m.Trigger()
	assert.NoError(t, m.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New(time.Second, nil).Wait(ctx), context.Canceled)
}

func TestStopScheduler(t *testing.T) {
	s := jobs.NewScheduler("scan")
	require.NoError(t, s.Start())

	step := StopScheduler(s)
	require.NoError(t, step(context.Background()))
	assert.False(t, s.Running())

	// a scheduler that is already stopped is not an error
	assert.NoError(t, step(context.Background()))
}
