package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubHandler struct {
	enabled bool
	err     error
	handled int
}

func (h *stubHandler) Enabled(context.Context, slog.Level) bool { return h.enabled }
func (h *stubHandler) Handle(context.Context, slog.Record) error {
	h.handled++
	return h.err
}
func (h *stubHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *stubHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiHandler_FansOut(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	logger := slog.New(NewMultiHandler(
		slog.NewTextHandler(&buf1, nil),
		slog.NewJSONHandler(&buf2, nil),
	))

	logger.Info("page loaded", "filter", "ALL")

	assert.Contains(t, buf1.String(), "page loaded")
	assert.Contains(t, buf1.String(), "filter=ALL")
	assert.Contains(t, buf2.String(), `"filter":"ALL"`)
}

func TestMultiHandler_Enabled(t *testing.T) {
	multi := NewMultiHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
	)

	assert.False(t, multi.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, multi.Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_SkipsDisabledHandlers(t *testing.T) {
	on, off := &stubHandler{enabled: true}, &stubHandler{enabled: false}
	multi := NewMultiHandler(on, off)

	err := multi.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0))
	assert.NoError(t, err)
	assert.Equal(t, 1, on.handled)
	assert.Zero(t, off.handled)
}

func TestMultiHandler_JoinsErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	first := &stubHandler{enabled: true, err: errA}
	second := &stubHandler{enabled: true, err: errB}
	third := &stubHandler{enabled: true}

	err := NewMultiHandler(first, second, third).Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "m", 0))

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, third.handled)
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	multi := NewMultiHandler(slog.NewTextHandler(&buf1, nil), slog.NewTextHandler(&buf2, nil))

	logger := slog.New(multi).With("component", "feed").WithGroup("page")
	logger.Info("loaded", "raw", 15)

	for _, out := range []string{buf1.String(), buf2.String()} {
		assert.Contains(t, out, "component=feed")
		assert.Contains(t, out, "page.raw=15")
	}
}
