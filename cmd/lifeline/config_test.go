package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("database required unless in memory", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		_, err := loadConfig(true)
		require.Error(t, err)

		c, err := loadConfig(false)
		require.NoError(t, err)
		assert.Equal(t, 20.0, c.MatchRadiusKm)
		assert.Equal(t, []string{"log", "store"}, c.NotifySinks)
	})

	t.Run("unknown sink", func(t *testing.T) {
		t.Setenv("NOTIFY_SINKS", "log,pager")

		_, err := loadConfig(false)
		assert.ErrorContains(t, err, "pager")
	})

	t.Run("kafka needs brokers", func(t *testing.T) {
		t.Setenv("NOTIFY_SINKS", "kafka")
		t.Setenv("KAFKA_BROKERS", "")

		_, err := loadConfig(false)
		assert.ErrorContains(t, err, "KAFKA_BROKERS")
	})

	t.Run("radius must be positive", func(t *testing.T) {
		t.Setenv("MATCH_RADIUS_KM", "-1")

		_, err := loadConfig(false)
		assert.Error(t, err)
	})
}
