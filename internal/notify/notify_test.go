package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	alerts     []domain.AlertEvent
	heartbeats []domain.HeartbeatEvent
	err        error
}

func (r *recordingNotifier) NotifyAlert(_ context.Context, e domain.AlertEvent) error {
	r.alerts = append(r.alerts, e)
	return r.err
}

func (r *recordingNotifier) NotifyHeartbeat(_ context.Context, e domain.HeartbeatEvent) error {
	r.heartbeats = append(r.heartbeats, e)
	return r.err
}

func TestMulti_AttemptsAllAndJoinsErrors(t *testing.T) {
	a := &recordingNotifier{err: errors.New("smtp down")}
	b := &recordingNotifier{}
	c := &recordingNotifier{err: errors.New("kafka down")}
	m := Multi{a, b, c}

	err := m.NotifyAlert(context.Background(), domain.AlertEvent{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "kafka down")
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
	assert.Len(t, c.alerts, 1)

	b.err = nil
	assert.NoError(t, Multi{b}.NotifyHeartbeat(context.Background(), domain.HeartbeatEvent{}))
	assert.NoError(t, Multi{}.NotifyAlert(context.Background(), domain.AlertEvent{}))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, l.NotifyAlert(context.Background(), domain.AlertEvent{Location: "Mishima", Severity: "heavy_rain", MMPerHour: 32}))
	require.NoError(t, l.NotifyHeartbeat(context.Background(), domain.HeartbeatEvent{Scheduled: "09:00"}))
	assert.Contains(t, buf.String(), "rain alert")
	assert.Contains(t, buf.String(), "location=Mishima")
	assert.Contains(t, buf.String(), "scheduled=09:00")
}
