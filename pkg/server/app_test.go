package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/pkg/logger"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) component(name string, startErr error) Component {
	return Component{
		Name: name,
		Start: func(context.Context) error {
			r.add("start " + name)
			return startErr
		},
		Stop: func(context.Context) error {
			r.add("stop " + name)
			return nil
		},
	}
}

func TestAppStartsInOrderAndStopsInReverse(t *testing.T) {
	rec := &recorder{}
	app := New(logger.NewNop(), time.Second,
		rec.component("pipeline", nil),
		rec.component("coordinator", nil),
		rec.component("http", nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.calls) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{
		"start pipeline", "start coordinator", "start http",
		"stop http", "stop coordinator", "stop pipeline",
	}, rec.calls)
}

func TestAppRollsBackOnStartFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	app := New(logger.NewNop(), time.Second,
		rec.component("pipeline", nil),
		rec.component("coordinator", boom),
		rec.component("http", nil))

	err := app.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start pipeline", "start coordinator", "stop pipeline"}, rec.calls)
}

func TestAppJoinsStopErrors(t *testing.T) {
	failing := errors.New("flush failed")
	app := New(logger.NewNop(), time.Second,
		Component{Name: "ok", Start: func(context.Context) error { return nil }},
		Component{Name: "producer", Stop: func(context.Context) error { return failing }})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := app.Run(ctx)
	require.ErrorIs(t, err, failing)
}
