package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ersonp/continuity/internal/domain/services"
	"github.com/ersonp/continuity/internal/infrastructure/config"
)

func TestEngineConfig_DefaultsMatch(t *testing.T) {
	assert.Equal(t, services.DefaultEngineConfig(), engineConfig(config.Default().Engine))
}

func TestEngineConfig_MapsFields(t *testing.T) {
	c := config.Default().Engine
	c.Workers = 8
	c.Debounce = time.Second
	c.CheckTimeout = time.Minute
	c.JudgeStrategy = services.JudgeSemantic
	c.ReraiseSuppressed = true
	c.TimeOfDayCheck = true
	c.ScoreWeights.Critical = 10

	got := engineConfig(c)

	assert.Equal(t, 8, got.Scanner.Workers)
	assert.Equal(t, time.Second, got.Scheduler.Debounce)
	assert.Equal(t, time.Minute, got.Scheduler.Timeout)
	assert.Equal(t, services.JudgeSemantic, got.JudgeStrategy)
	assert.True(t, got.Issues.ReraiseSuppressed)
	assert.True(t, got.Checker.TimeOfDayCheck)
	assert.Equal(t, float64(10), got.Issues.Weights.Critical)
}
