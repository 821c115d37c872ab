package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisClientFromURL_InvalidURL(t *testing.T) {
	client, err := NewRedisClientFromURL(context.Background(), "not-a-redis-url")

	assert.Error(t, err)
	assert.Nil(t, client)
}
