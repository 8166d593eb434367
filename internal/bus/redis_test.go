package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestPublish(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	var roomID uint64 = 1

	sub := svc.Client().Subscribe(ctx, roomChannel(roomID))
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	payload := map[string]string{"foo": "bar"}
	err := svc.Publish(ctx, roomID, "test-event", payload, 42, []string{"host"})
	assert.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope RoomEventPayload
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, roomID, envelope.RoomID)
	assert.Equal(t, "test-event", envelope.Event)
	assert.Equal(t, uint64(42), envelope.SenderID)
	assert.Contains(t, envelope.Roles, "host")
}

func TestPublishDirect(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	var targetUserID uint64 = 99

	sub := svc.Client().Subscribe(ctx, userChannel(targetUserID))
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	payload := map[string]string{"msg": "direct"}
	err := svc.PublishDirect(ctx, targetUserID, "direct-event", payload, 1)
	assert.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope RoomEventPayload
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, "direct-event", envelope.Event)
	assert.Equal(t, uint64(1), envelope.SenderID)
	assert.Zero(t, envelope.RoomID)
	assert.Empty(t, envelope.Roles)
}

func TestSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var roomID uint64 = 7
	wg := &sync.WaitGroup{}

	received := make(chan RoomEventPayload, 1)
	handler := func(p RoomEventPayload) {
		received <- p
	}

	svc.Subscribe(ctx, roomID, wg, handler)
	time.Sleep(50 * time.Millisecond)

	payload := RoomEventPayload{
		RoomID:   roomID,
		Event:    "hello",
		SenderID: 2,
	}
	bytes, _ := json.Marshal(payload)
	svc.Client().Publish(ctx, roomChannel(roomID), bytes)

	select {
	case p := <-received:
		assert.Equal(t, "hello", p.Event)
		assert.Equal(t, uint64(2), p.SenderID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	wg.Wait()
}

func TestSetOperations(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "test-set"

	err := svc.SetAdd(ctx, key, "m1")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, key, "m2")
	assert.NoError(t, err)

	members, err := svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, members)

	err = svc.SetRem(ctx, key, "m1")
	assert.NoError(t, err)

	members, err = svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"m2"}, members)
}

func TestRedisFailure_Graceful(t *testing.T) {
	svc, mr := newTestService(t)

	mr.Close()

	ctx := context.Background()
	err := svc.Ping(ctx)
	assert.Error(t, err)
}

func TestSetOperations_ErrorPaths(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "test-error-set"

	err := svc.SetAdd(ctx, key, "m1")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, key, "m2")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, key, "m3")
	assert.NoError(t, err)

	members, err := svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.Len(t, members, 3)

	err = svc.SetRem(ctx, key, "m1")
	assert.NoError(t, err)
	err = svc.SetRem(ctx, key, "m2")
	assert.NoError(t, err)

	members, err = svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"m3"}, members)

	mr.Close()

	err = svc.SetAdd(ctx, key, "m4")
	assert.Error(t, err)

	err = svc.SetRem(ctx, key, "m3")
	assert.Error(t, err)

	_, err = svc.SetMembers(ctx, key)
	assert.Error(t, err)
}

func TestPublish_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	mr.Close()

	for i := 0; i < 10; i++ {
		_ = svc.Publish(ctx, 1, "event", map[string]string{}, 1, []string{})
	}

	err := svc.Publish(ctx, 1, "event", map[string]string{}, 1, []string{})
	_ = err
}

func TestPublishDirect_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	mr.Close()

	for i := 0; i < 10; i++ {
		_ = svc.PublishDirect(ctx, 1, "event", map[string]string{}, 1)
	}

	err := svc.PublishDirect(ctx, 1, "event", map[string]string{}, 1)
	_ = err
}
