package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 300*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 24*time.Hour, cfg.AuthExpiry)
	assert.Equal(t, 5, cfg.JobWorkers)
	assert.Equal(t, 3, cfg.JobAttempts)
	assert.Equal(t, 2*time.Second, cfg.JobBackoff)
	assert.Equal(t, 10, cfg.DBMaxConns)
	assert.Equal(t, 1, cfg.DBMinConns)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CSMS_LISTEN_ADDR", ":9999")
	t.Setenv("CSMS_HEARTBEAT_INTERVAL", "60s")
	t.Setenv("CSMS_JOB_WORKERS", "2")
	t.Setenv("CSMS_DB_MAX_CONNS", "4")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2, cfg.JobWorkers)
	assert.Equal(t, 4, cfg.DBMaxConns)
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("CSMS_HEARTBEAT_INTERVAL", "soon")
	t.Setenv("CSMS_JOB_WORKERS", "-1")

	cfg := Load()
	assert.Equal(t, 300*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5, cfg.JobWorkers)
}
