package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) error { return nil })
	r.Register("expiry_timer", Loop(func() bool { return false }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "expiry_timer", statuses[1].Name)
	assert.Equal(t, ErrNotRunning.Error(), statuses[1].Detail)
}

func TestRegistryReplacesSameName(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) error { return errors.New("down") })
	r.Register("database", func(context.Context) error { return nil })

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Len(t, statuses, 1)
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	block := make(chan struct{})
	defer close(block)
	r.Register("stuck", func(context.Context) error {
		<-block
		return nil
	})
	r.Register("fast", func(context.Context) error { return nil })

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), statuses[0].Detail)
	assert.True(t, statuses[1].Healthy)
}

func TestLoopChecker(t *testing.T) {
	running := false
	check := Loop(func() bool { return running })

	assert.ErrorIs(t, check(context.Background()), ErrNotRunning)
	running = true
	assert.NoError(t, check(context.Background()))
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("checker", func(context.Context) error { return nil })
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
