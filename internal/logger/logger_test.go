package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "watchsync.log")

	l, err := Init(Options{Level: "debug", File: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	l.Infow("cache ready", "movies", 3)
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cache ready")
	assert.Same(t, l, Get())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	_, err := Init(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	l := zap.NewNop().Sugar()
	ctx := WithCtx(context.Background(), l)

	assert.Same(t, ctx, WithCtx(ctx, l))
	assert.NotNil(t, FromCtx(ctx, "op", "refresh"))
	assert.NotNil(t, FromCtx(context.Background()))
}
