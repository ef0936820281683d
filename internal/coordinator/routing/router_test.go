package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/coordinator/pool"
)

func TestSubmit_NoLocalNoActiveNodeFails(t *testing.T) {
	p := pool.New(pool.Config{
		PingInterval:   time.Second,
		StaleTimeout:   time.Second,
		HandoffTimeout: 10 * time.Millisecond,
		ScanDuration:   10 * time.Millisecond,
	}, zap.NewNop())
	go p.Run()
	t.Cleanup(p.Close)

	r := New(nil, p, zap.NewNop())
	assert.False(t, r.Submit(50, 0, 0))
}

func TestBattery_NoLocalNoActiveNodeReportsUnknown(t *testing.T) {
	p := pool.New(pool.Config{PingInterval: time.Second, StaleTimeout: time.Second, HandoffTimeout: time.Second, ScanDuration: time.Second}, zap.NewNop())
	go p.Run()
	t.Cleanup(p.Close)

	r := New(nil, p, zap.NewNop())
	_, ok := r.Battery()
	assert.False(t, ok)
}

func TestActive_FalseWithNothingConnected(t *testing.T) {
	p := pool.New(pool.Config{PingInterval: time.Second, StaleTimeout: time.Second, HandoffTimeout: time.Second, ScanDuration: time.Second}, zap.NewNop())
	go p.Run()
	t.Cleanup(p.Close)

	r := New(nil, p, zap.NewNop())
	assert.False(t, r.Active())
}
