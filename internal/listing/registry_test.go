package listing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/models"
)

func emptyFetch[T any](context.Context, apiclient.Query) (models.Page[T], error) {
	return models.Page[T]{}, nil
}

func TestRegistry_OnePerSessionEntity(t *testing.T) {
	r := NewRegistry(time.Hour)
	create := func() *Controller[models.Device] { return New("devices", emptyFetch[models.Device], 10, 100) }

	a := Get(r, "s1", "devices", create)
	b := Get(r, "s1", "devices", create)
	c := Get(r, "s2", "devices", create)
	s := Get(r, "s1", "sensors", func() *Controller[models.Sensor] { return New("sensors", emptyFetch[models.Sensor], 10, 100) })

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.NotNil(t, s)
	assert.Equal(t, 3, r.Len())

	r.Forget("s1")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SweepIdle(t *testing.T) {
	r := NewRegistry(time.Minute)
	clock := time.Now()
	r.now = func() time.Time { return clock }
	create := func() *Controller[models.Device] { return New("devices", emptyFetch[models.Device], 10, 100) }

	Get(r, "old", "devices", create)
	clock = clock.Add(2 * time.Minute)
	Get(r, "new", "devices", create)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
}
