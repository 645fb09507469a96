package logging

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFieldConstructors 测试字段构造函数
func TestFieldConstructors(t *testing.T) {
	require.Equal(t, Field{Key: "name", Value: "test"}, String("name", "test"))
	require.Equal(t, Field{Key: "count", Value: 123}, Int("count", 123))
	require.Equal(t, Field{Key: "id", Value: int64(456)}, Int64("id", int64(456)))
	require.Equal(t, Field{Key: "active", Value: true}, Bool("active", true))

	err := errors.New("boom")
	require.Equal(t, "error", Error(err).Key)
	require.Equal(t, err, Error(err).Value)
}

// TestStdLoggerFormat 测试标准Logger的字段格式化
func TestStdLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(log.Writer())

	logger := NewStdLogger("stratus")
	logger.Info(context.Background(), "lock acquired",
		String("entity_id", "c-1"),
		Int("attempt", 2))

	out := buf.String()
	require.True(t, strings.Contains(out, "[INFO]"))
	require.True(t, strings.Contains(out, "lock acquired"))
	require.True(t, strings.Contains(out, "entity_id=c-1"))
	require.True(t, strings.Contains(out, "attempt=2"))
}

// TestWithFields 测试字段叠加不影响原Logger
func TestWithFields(t *testing.T) {
	base := NewStdLogger("stratus")
	derived := base.WithFields(String("component", "dispatcher"))

	require.NotSame(t, Logger(base), derived)
	require.Len(t, base.fields, 0)
}

// TestComponentLogger 测试组件级Logger派生
func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(log.Writer())

	prev := GetLogger()
	SetLogger(NewStdLogger(""))
	defer SetLogger(prev)

	ComponentLogger("locking.redis").Warn(context.Background(), "lease expired")
	require.True(t, strings.Contains(buf.String(), "component=locking.redis"))
}
