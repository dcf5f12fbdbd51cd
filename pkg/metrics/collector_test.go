package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	code  int
	name  string
	ready bool
}

func (f *fakeSource) StateCode() (int, string) { return f.code, f.name }
func (f *fakeSource) IsReady() bool            { return f.ready }

func TestCollectorCollect(t *testing.T) {
	src := &fakeSource{code: 4, name: "Connected", ready: true}
	reg := NewHealthRegistry("test", ComponentWorker)

	c := NewCollector(src, reg, time.Minute)
	c.Collect()

	assert.Equal(t, float64(4), testutil.ToFloat64(ConnectionState))
	comp, ok := reg.Component(ComponentWorker)
	assert.True(t, ok)
	assert.True(t, comp.Healthy)
	assert.Equal(t, "Connected", comp.Detail)

	src.code, src.name, src.ready = 7, "Exhausted", false
	c.Collect()
	assert.Equal(t, float64(7), testutil.ToFloat64(ConnectionState))
	assert.Equal(t, "not_ready", reg.Readiness().Status)
}

func TestCollectorStartStop(t *testing.T) {
	src := &fakeSource{code: 6, name: "Retrying"}
	reg := NewHealthRegistry("test", ComponentWorker)

	c := NewCollector(src, reg, 10*time.Millisecond)
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		_, ok := reg.Component(ComponentWorker)
		return ok
	}, time.Second, 5*time.Millisecond)
}
