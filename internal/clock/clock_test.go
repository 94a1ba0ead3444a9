package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeTicker(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	tk := c.NewTicker(3 * time.Second)
	require.Equal(t, 1, c.Tickers())

	c.Advance(2 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticked early")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-tk.C:
		assert.Equal(t, start.Add(3*time.Second), at)
	default:
		t.Fatal("expected a tick")
	}
	assert.Equal(t, start.Add(3*time.Second), c.Now())

	// Several intervals at once leave a single buffered tick.
	c.Advance(10 * time.Second)
	<-tk.C
	select {
	case <-tk.C:
		t.Fatal("ticks should not queue")
	default:
	}

	tk.Stop()
	c.Advance(time.Minute)
	assert.Equal(t, 0, c.Tickers())
}
