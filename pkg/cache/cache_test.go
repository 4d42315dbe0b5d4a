package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetWithinTTL(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestGetAfterExpiry(t *testing.T) {
	c := NewTTLCache[string, int](10 * time.Millisecond)
	c.Set("a", 1)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := NewTTLCache[string, int](0)
	c.Set("a", 1)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)
	c.Set("a", 1)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}
