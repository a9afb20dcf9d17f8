package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/models"
)

func TestConfirmationRoundTrip(t *testing.T) {
	hub := NewConfirmationHub()

	notified := make(chan struct{})
	go func() {
		<-notified
		require.NoError(t, hub.Resolve("run-1", models.Confirmation{Accepted: true, SelectedIndex: 2}))
	}()

	conf, err := hub.Await(context.Background(), "run-1", time.Second, func() { close(notified) })
	require.NoError(t, err)
	assert.True(t, conf.Accepted)
	assert.Equal(t, 2, conf.SelectedIndex)
	assert.False(t, hub.Pending("run-1"), "rendezvous removed after delivery")
}

func TestResolveWithoutPendingRendezvous(t *testing.T) {
	hub := NewConfirmationHub()
	err := hub.Resolve("run-x", models.Confirmation{Accepted: true})
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
}

func TestResolveIsOneShot(t *testing.T) {
	hub := NewConfirmationHub()

	resolved := make(chan error, 2)
	go func() {
		for !hub.Pending("run-1") {
			time.Sleep(time.Millisecond)
		}
		resolved <- hub.Resolve("run-1", models.Confirmation{Accepted: true})
		resolved <- hub.Resolve("run-1", models.Confirmation{Accepted: false})
	}()

	conf, err := hub.Await(context.Background(), "run-1", time.Second, nil)
	require.NoError(t, err)
	assert.True(t, conf.Accepted)

	require.NoError(t, <-resolved)
	assert.ErrorIs(t, <-resolved, ErrNoPendingConfirmation,
		"second answer for the same rendezvous finds nothing")
}

func TestAwaitTimesOutAsImplicitReject(t *testing.T) {
	hub := NewConfirmationHub()

	_, err := hub.Await(context.Background(), "run-1", 20*time.Millisecond, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConfirmationTimeout, models.KindOf(err))
	assert.False(t, hub.Pending("run-1"), "rendezvous cleaned up after timeout")
}

func TestAwaitStageDeadlineMapsToConfirmationTimeout(t *testing.T) {
	hub := NewConfirmationHub()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := hub.Await(ctx, "run-1", time.Minute, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConfirmationTimeout, models.KindOf(err))
}

func TestAwaitCancellationMapsToUserCancelled(t *testing.T) {
	hub := NewConfirmationHub()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := hub.Await(ctx, "run-1", time.Minute, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindUserCancelled, models.KindOf(err))
}

func TestAwaitRejectsDuplicateRendezvous(t *testing.T) {
	hub := NewConfirmationHub()

	first := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := hub.Await(context.Background(), "run-1", time.Second, func() { close(first) })
		assert.NoError(t, err)
	}()
	<-first

	_, err := hub.Await(context.Background(), "run-1", time.Second, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindStageInternal, models.KindOf(err))

	require.NoError(t, hub.Resolve("run-1", models.Confirmation{Accepted: true}))
	wg.Wait()
}

// A client answering the instant it sees confirmation_required must find the
// rendezvous registered: notify runs strictly after registration.
func TestNotifyRunsAfterRegistration(t *testing.T) {
	hub := NewConfirmationHub()

	conf, err := hub.Await(context.Background(), "run-1", time.Second, func() {
		require.True(t, hub.Pending("run-1"))
		require.NoError(t, hub.Resolve("run-1", models.Confirmation{Accepted: true}))
	})
	require.NoError(t, err)
	assert.True(t, conf.Accepted)
}
