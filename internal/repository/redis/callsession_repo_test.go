package redis

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"voicebridge-backend/internal/domain"
	"voicebridge-backend/pkg/constants"
)

func TestSessionTTL_ConnectedOutlivesRingWindow(t *testing.T) {
	sess := &domain.CallSession{
		CallID: uuid.New(),
		Status: domain.CallStatusConnected,
	}

	ttl := sessionTTL(sess)

	// A connected call must not expire on the ring window; long calls keep
	// their record until someone ends them or the active ceiling hits.
	assert.Equal(t, constants.CallActiveTTL, ttl)
	assert.Greater(t, ttl, constants.CallRingTTL)
}

func TestSessionTTL_RingingKeepsRemainingTTL(t *testing.T) {
	sess := &domain.CallSession{
		CallID: uuid.New(),
		Status: domain.CallStatusCalling,
	}

	assert.Equal(t, time.Duration(redis.KeepTTL), sessionTTL(sess))
}
