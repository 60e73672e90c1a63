package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/medivault/backend/pkg/circuitbreaker"
)

// unreachable points at a closed port so every command fails fast.
func unreachable() *Client {
	return newClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestSearchKey(t *testing.T) {
	assert.Equal(t, "search:HID-1:abc", searchKey("HID-1", "abc"))
	assert.Equal(t, "search:HID-1:*", searchKey("HID-1", "*"))
}

func TestBreakerOpensWhenRedisIsDown(t *testing.T) {
	c := unreachable()
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		var out []string
		hit, err := c.GetSearch(ctx, "HID-1", "q", &out)
		assert.Error(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	err := c.SetSearch(ctx, "HID-1", "q", []string{"x"}, time.Minute)
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
}

func TestSetSearchRejectsUnmarshalableValue(t *testing.T) {
	c := unreachable()
	defer c.Close()

	err := c.SetSearch(context.Background(), "HID-1", "q", make(chan int), time.Minute)
	assert.Error(t, err)
	assert.Equal(t, circuitbreaker.Counts{}, c.cb.Counts())
}
