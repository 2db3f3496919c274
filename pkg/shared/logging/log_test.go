package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWithLoggerFromContext(t *testing.T) {
	fallback := FromContext(context.Background())
	assert.NotNil(t, fallback)

	logger := zap.NewNop().Sugar()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestSetLevel(t *testing.T) {
	defer func() { _ = SetLevel("info") }()

	assert.NoError(t, SetLevel("debug"))
	assert.True(t, atomicLevel.Enabled(zap.DebugLevel))

	assert.NoError(t, SetLevel("warn"))
	assert.False(t, atomicLevel.Enabled(zap.InfoLevel))

	err := SetLevel("chatty")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
