package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tourguide/internal/config"
)

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/hooks/route", Secret: "s", MaxBodySize: "256KB", Mode: "manual"},
			{Path: "/hooks/fast", Secret: "t", JunctionIntervalSeconds: 0.5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8081", cfg.Listen)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, int64(256*1024), cfg.Endpoints[0].MaxBodySize)
	assert.Equal(t, "manual", cfg.Endpoints[0].Mode)
	assert.Equal(t, int64(DefaultMaxBodySize), cfg.Endpoints[1].MaxBodySize)
	assert.Equal(t, 0.5, cfg.Endpoints[1].Interval)
}

func TestFromGlobalConfigErrors(t *testing.T) {
	_, err := FromGlobalConfig(nil)
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/x"}}})
	assert.ErrorContains(t, err, "no secret")

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/x", Secret: "s", MaxBodySize: "lots"}}})
	assert.ErrorContains(t, err, "max_body_size")
}
