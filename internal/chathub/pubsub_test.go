package chathub_test

import (
	"context"
	"errors"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// loopbackRelay stands in for Redis: published envelopes come straight back to the listener.
type loopbackRelay struct {
	mock.Mock
	ch       chan chathub.Envelope
	listened sync.WaitGroup
}

func newLoopbackRelay() *loopbackRelay {
	r := &loopbackRelay{ch: make(chan chathub.Envelope, 16)}
	r.listened.Add(1)
	return r
}

func (r *loopbackRelay) Publish(ctx context.Context, env chathub.Envelope) error {
	args := r.Called(env.Topic)
	if err := args.Error(0); err != nil {
		return err
	}
	r.ch <- env
	return nil
}

func (r *loopbackRelay) Listen(ctx context.Context, deliver func(chathub.Envelope)) error {
	r.listened.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-r.ch:
			deliver(env)
		}
	}
}

func TestManager_PublishThroughRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := chathub.NewManagerService(8)
	relay := newLoopbackRelay()
	relay.On("Publish", chathub.GlobalTopic).Return(nil)
	hub.StartRelay(ctx, relay)
	relay.listened.Wait()

	sub, err := hub.SubscribeGlobal("agent-1", models.RoleAgent)
	require.NoError(t, err)

	hub.Publish(ctx, chathub.GlobalTopic, preview("r1", 1))

	assert.Equal(t, uint(1), receive(t, sub).MessageID)
	assertEmpty(t, sub)
	relay.AssertNumberOfCalls(t, "Publish", 1)
}

func TestManager_RelayFailureFallsBackToLocal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := chathub.NewManagerService(8)
	relay := newLoopbackRelay()
	relay.On("Publish", chathub.RoomTopic("r1")).Return(errors.New("redis down"))
	hub.StartRelay(ctx, relay)

	sub, _ := hub.SubscribeRoom("r1", "cust-1", models.RoleCustomer)

	hub.Publish(ctx, chathub.RoomTopic("r1"), preview("r1", 9))

	assert.Equal(t, uint(9), receive(t, sub).MessageID)
}
