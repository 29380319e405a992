package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorID(t *testing.T) {
	_, ok := GetActorID(context.Background())
	assert.False(t, ok)

	ctx := WithActorID(context.Background(), 42)
	id, ok := GetActorID(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestActorID_WrongTypeIgnored(t *testing.T) {
	ctx := context.WithValue(context.Background(), ActorIDKey, "42")
	_, ok := GetActorID(ctx)
	assert.False(t, ok)
}

func TestRequestAndUserID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "7")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "7", GetUserID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}
