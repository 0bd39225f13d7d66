package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestImproveText_MonotonicConfidence(t *testing.T) {
	track := &TrackedObject{}

	assert.True(t, track.ImproveText("ABC123", 0.5))
	assert.Equal(t, "ABC123", track.BestText)

	// Noisier frame must not regress the stored reading.
	assert.False(t, track.ImproveText("A8C1Z3", 0.3))
	assert.Equal(t, "ABC123", track.BestText)
	assert.Equal(t, 0.5, track.BestConfidence)

	assert.True(t, track.ImproveText("ABC1234", 0.9))
	assert.Equal(t, "ABC1234", track.BestText)

	assert.False(t, track.ImproveText("XYZ999", 0.4))
	assert.Equal(t, "ABC1234", track.BestText)
	assert.Equal(t, 0.9, track.BestConfidence)
}

func TestImproveText_TieKeepsExistingReading(t *testing.T) {
	track := &TrackedObject{}
	assert.True(t, track.ImproveText("ABC123", 0.5))
	assert.False(t, track.ImproveText("ABD123", 0.5))
	assert.Equal(t, "ABC123", track.BestText)
}

func TestImproveText_EmptyTextNeverStored(t *testing.T) {
	track := &TrackedObject{}
	assert.False(t, track.ImproveText("", 0.99))
	assert.Empty(t, track.BestText)
	assert.Zero(t, track.BestConfidence)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	track := &TrackedObject{LastSeenAt: now.Add(-61 * time.Second)}
	assert.True(t, track.Expired(now, 60*time.Second))

	track.LastSeenAt = now.Add(-59 * time.Second)
	assert.False(t, track.Expired(now, 60*time.Second))
}
