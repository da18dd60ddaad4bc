package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json")

	logger.WithField("tenant_id", "t1").Debug("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "t1", line["tenant_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewWithWriter_BadLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithWriter(&bytes.Buffer{}, "loud", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestFromContext(t *testing.T) {
	base := Discard()
	assert.Equal(t, logrus.FieldLogger(base), FromContext(context.Background(), base))

	entry := base.WithField("request_id", "r1")
	ctx := WithEntry(context.Background(), entry)
	assert.Equal(t, logrus.FieldLogger(entry), FromContext(ctx, base))
}
