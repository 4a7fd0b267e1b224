package serializer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmit_RunsJobAndDeliversResult(t *testing.T) {
	s := New()
	resCh := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})

	select {
	case res := <-resCh:
		require.NoError(t, res.Err)
		require.Equal(t, 42, res.Value)
	case <-time.After(time.Second):
		t.Fatal("job never completed")
	}
}

func TestSubmit_PropagatesJobError(t *testing.T) {
	s := New()
	boom := context.Canceled
	resCh := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	})

	res := <-resCh
	require.ErrorIs(t, res.Err, boom)
}

func TestSubmit_OrdersResultsFIFO(t *testing.T) {
	s := New()
	const n = 20

	var mu sync.Mutex
	var order []int

	release := make(chan struct{})
	first := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release // hold the first job open so every later submit queues up behind it
		return 0, nil
	})

	channels := make([]<-chan Result, n)
	for i := 0; i < n; i++ {
		i := i
		channels[i] = s.Submit(context.Background(), func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
	}

	close(release)
	<-first
	for i := 0; i < n; i++ {
		<-channels[i]
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		require.Equal(t, i, order[i], "jobs must run in submission order")
	}
}

func TestSubmit_NeverBlocksCallerEvenFromSameGoroutineAsReceiver(t *testing.T) {
	s := New()
	ch := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	res := <-ch
	require.Equal(t, "ok", res.Value)
}
