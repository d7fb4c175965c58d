package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsentry/roadsentry-go/internal/conf"
)

func testMQTTSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Main.Name = "TestNode"
	settings.MQTT = conf.MQTTSettings{
		Enabled: true,
		Broker:  "tcp://127.0.0.1:1883",
		Topic:   "roadsentry/events",
	}
	return settings
}

func TestPublishHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	c := NewClient(testMQTTSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Publish(ctx, "roadsentry/events", "{}")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishWaitDerivedFromDeadline(t *testing.T) {
	t.Parallel()

	// no deadline: the client's own timeout governs
	assert.Equal(t, publishTimeout, publishWait(context.Background()))

	// a distant deadline is capped by the client's timeout
	far, cancelFar := context.WithTimeout(context.Background(), time.Hour)
	defer cancelFar()
	assert.Equal(t, publishTimeout, publishWait(far))

	// a near deadline shortens the wait
	near, cancelNear := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelNear()
	wait := publishWait(near)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 50*time.Millisecond)
}
