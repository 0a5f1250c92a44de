package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenMax: 1})

	for i := 0; i < 2; i++ {
		require.NoError(t, r.Allow("crm.contacts.create"))
		r.RecordFailure("crm.contacts.create")
	}
	assert.Equal(t, BreakerClosed, r.State("crm.contacts.create"))

	r.RecordFailure("crm.contacts.create")
	assert.Equal(t, BreakerOpen, r.State("crm.contacts.create"))

	err := r.Allow("crm.contacts.create")
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, flowErr.Code)
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})

	r.RecordFailure("svc.op")
	require.Error(t, r.Allow("svc.op"))

	time.Sleep(20 * time.Millisecond)

	// First probe allowed, second rejected.
	assert.NoError(t, r.Allow("svc.op"))
	assert.Error(t, r.Allow("svc.op"))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})

	r.RecordFailure("svc.op")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Allow("svc.op"))
	r.RecordSuccess("svc.op")

	assert.Equal(t, BreakerClosed, r.State("svc.op"))
	assert.NoError(t, r.Allow("svc.op"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})

	r.RecordFailure("svc.op")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Allow("svc.op"))
	state := r.RecordFailure("svc.op")
	assert.Equal(t, BreakerOpen, state)
}

func TestBreaker_PathsAreIndependent(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMax: 1})

	r.RecordFailure("svc.a")
	assert.Error(t, r.Allow("svc.a"))
	assert.NoError(t, r.Allow("svc.b"))
}
