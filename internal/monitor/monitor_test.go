package monitor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/monitor"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/notify"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type staticLocations struct {
	mu   sync.Mutex
	locs []domain.Location
	err  error
}

func (s *staticLocations) Locations(_ context.Context) ([]domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locs, s.err
}

func (s *staticLocations) set(locs []domain.Location, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locs, s.err = locs, err
}

type fixedResolver struct {
	base time.Time
	fail map[int]error
}

func (r fixedResolver) Resolve(_ context.Context, lead int) (domain.TimeSlot, error) {
	if err := r.fail[lead]; err != nil {
		return domain.TimeSlot{}, &domain.SlotResolutionError{LeadMinutes: lead, Err: err}
	}
	return domain.TimeSlot{
		BaseTime:    r.base,
		ValidTime:   r.base.Add(time.Duration(lead) * time.Minute),
		LeadMinutes: lead,
	}, nil
}

type fakeTiles struct {
	mu      sync.Mutex
	data    []byte
	err     error
	calls   int
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeTiles) FetchTile(ctx context.Context, slot domain.TimeSlot, coord domain.TileCoord) (domain.Tile, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.Tile{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Tile{}, f.err
	}
	return domain.Tile{Coord: coord, Slot: slot, Data: f.data, SourceURL: "test://tile"}, nil
}

func (f *fakeTiles) set(data []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data, f.err = data, err
}

type recordingNotifier struct {
	mu         sync.Mutex
	alerts     []domain.AlertEvent
	heartbeats []domain.HeartbeatEvent
	err        error
}

func (r *recordingNotifier) NotifyAlert(_ context.Context, e domain.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, e)
	return r.err
}

func (r *recordingNotifier) NotifyHeartbeat(_ context.Context, e domain.HeartbeatEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, e)
	return r.err
}

// --- helpers ---

var mishima = domain.Location{
	Name:       "Mishima Station",
	Lat:        35.126474871810345,
	Lon:        138.91109391000256,
	Thresholds: domain.DefaultThresholds(),
	Enabled:    true,
}

var baseTime = time.Date(2025, 7, 1, 3, 10, 0, 0, time.UTC)

// uniformTile encodes a paletted tile with every pixel at step. The palette is
// grey so no entry matches a legend colour.
func uniformTile(t *testing.T, step uint8) []byte {
	t.Helper()
	p := make(color.Palette, domain.MaxStep+1)
	p[0] = color.NRGBA{}
	for i := 1; i <= domain.MaxStep; i++ {
		p[i] = color.NRGBA{R: uint8(i), G: uint8(i), B: uint8(i), A: 255}
	}
	img := image.NewPaletted(image.Rect(0, 0, domain.TileSize, domain.TileSize), p)
	for i := range img.Pix {
		img.Pix[i] = step
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	monitor   *monitor.Monitor
	locations *staticLocations
	tiles     *fakeTiles
	notifier  *recordingNotifier
	metrics   *observability.Metrics
}

func newFixture(t *testing.T, resolver monitor.SlotResolver, opts monitor.Options) *fixture {
	t.Helper()
	if opts.Leads == nil {
		opts.Leads = []int{0, 30}
	}
	if opts.Interval == 0 {
		opts.Interval = 3 * time.Minute
	}
	f := &fixture{
		locations: &staticLocations{locs: []domain.Location{mishima}},
		tiles:     &fakeTiles{},
		notifier:  &recordingNotifier{},
		metrics:   observability.NewMetricsForTesting(),
	}
	aggregator := domain.NewSpatialAggregator(domain.NewIntensityDecoder(domain.StepScaleLinear))
	est := monitor.NewEstimator(f.tiles, aggregator, domain.DefaultZoom, nil, discardLogger())
	f.monitor = monitor.New(f.locations, resolver, est, domain.NewThresholdEvaluator(), f.notifier,
		opts, discardLogger(), f.metrics)
	return f
}

func (f *fixture) runOnce(t *testing.T) *monitor.CycleReport {
	t.Helper()
	report, err := f.monitor.RunOnce(context.Background(), monitor.TriggerManual)
	require.NoError(t, err)
	return report
}

// --- tests ---

func TestMonitor_EdgeTriggeredAlerts(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{})

	f.tiles.set(uniformTile(t, 32), nil)
	report := f.runOnce(t)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.SeverityHeavyRain, report.Alerts[0].Severity)
	assert.InDelta(t, 32.0, report.Alerts[0].MMPerHour, 1e-9)
	assert.Equal(t, domain.MethodMax2x2, report.Alerts[0].Method)
	assert.Len(t, report.Results, 2, "one result per lead")

	// still above: no repeat
	report = f.runOnce(t)
	assert.Empty(t, report.Alerts)

	// dry resets the state
	f.tiles.set(uniformTile(t, 0), nil)
	report = f.runOnce(t)
	assert.Empty(t, report.Alerts)

	// both thresholds crossed at once: highest severity only
	f.tiles.set(uniformTile(t, 55), nil)
	report = f.runOnce(t)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.SeverityTorrentialRain, report.Alerts[0].Severity)

	assert.Len(t, f.notifier.alerts, 2)
	assert.NoError(t, f.monitor.CheckReadiness(context.Background()))
}

func TestMonitor_NotifyAllLevels(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{NotifyAllLevels: true})
	f.tiles.set(uniformTile(t, 55), nil)

	report := f.runOnce(t)
	require.Len(t, report.Alerts, 2)
	assert.Equal(t, domain.SeverityHeavyRain, report.Alerts[0].Severity)
	assert.Equal(t, domain.SeverityTorrentialRain, report.Alerts[1].Severity)
}

func TestMonitor_OnlyDecisionLeadAlerts(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0, 30}, DecisionLead: 30})
	f.tiles.set(uniformTile(t, 32), nil)

	report := f.runOnce(t)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, 30, report.Alerts[0].Slot.LeadMinutes)
	assert.Equal(t, baseTime.Add(30*time.Minute), report.Alerts[0].Slot.ValidTime)
}

func TestMonitor_PreviewReadings(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})
	f.tiles.set(uniformTile(t, 12), nil)

	report := f.runOnce(t)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, domain.TileCoord{Zoom: 10, X: 907, Y: 405}, res.Tile)
	assert.Equal(t, domain.PixelCoord{X: 31, Y: 42}, res.Pixel)
	assert.InDelta(t, 125.0, res.MeshMeters, 1.0)
	require.Len(t, res.Readings, len(domain.AllMethods))
	for _, r := range res.Readings {
		assert.InDelta(t, 12.0, r.MMPerHour, 1e-9, "method %s", r.Method)
		assert.Equal(t, domain.ProvenanceStep, r.Provenance)
	}
}

func TestMonitor_FetchFailuresAreIsolated(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{})
	other := mishima
	other.Name = "Tokyo Station"
	other.Lat, other.Lon = 35.681236, 139.767125
	f.locations.set([]domain.Location{mishima, other}, nil)
	f.tiles.set(nil, &domain.TileNotFoundError{Attempts: 3, Err: errors.New("404")})

	report := f.runOnce(t)
	assert.Empty(t, report.Alerts)
	require.Len(t, report.Results, 4, "every pair attempted")
	for _, r := range report.Results {
		assert.Equal(t, monitor.StageFetch, r.Stage)
		assert.Empty(t, r.Readings)
	}
	assert.Equal(t, 4, report.Failures())
	assert.NoError(t, f.monitor.CheckReadiness(context.Background()))
}

func TestMonitor_DecodeErrorReadsZero(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})

	f.tiles.set(uniformTile(t, 40), nil)
	report := f.runOnce(t)
	require.Len(t, report.Alerts, 1)

	f.tiles.set([]byte("not a png"), nil)
	report = f.runOnce(t)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, monitor.StageDecode, res.Stage)
	decision, ok := res.Reading(domain.DecisionMethod)
	require.True(t, ok)
	assert.Zero(t, decision.MMPerHour)
	assert.Equal(t, domain.StateBelow, f.monitorState(domain.SeverityHeavyRain))
}

func (f *fixture) monitorState(severity string) domain.ThresholdState {
	for _, s := range f.monitor.States() {
		if s.Location == mishima.Name && s.Severity == severity {
			if s.State == domain.StateAbove.String() {
				return domain.StateAbove
			}
			return domain.StateBelow
		}
	}
	return domain.StateBelow
}

func TestMonitor_SlotFailureSkipsLead(t *testing.T) {
	resolver := fixedResolver{base: baseTime, fail: map[int]error{30: domain.ErrLeadNotPublished}}
	f := newFixture(t, resolver, monitor.Options{})
	f.tiles.set(uniformTile(t, 1), nil)

	report := f.runOnce(t)
	require.Len(t, report.SlotErrors, 1)
	assert.Equal(t, 30, report.SlotErrors[0].Lead)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 0, report.Results[0].Lead)
	assert.Contains(t, report.Slots, "0")
	assert.NotContains(t, report.Slots, "30")
}

func TestMonitor_NotifierFailureKeepsState(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})
	f.notifier.err = errors.New("sink down")
	f.tiles.set(uniformTile(t, 32), nil)

	report := f.runOnce(t)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.StateAbove, f.monitorState(domain.SeverityHeavyRain))

	report = f.runOnce(t)
	assert.Empty(t, report.Alerts, "failed delivery is not retried")
}

func TestMonitor_RemovedLocationIsForgotten(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})
	f.tiles.set(uniformTile(t, 32), nil)
	f.runOnce(t)
	require.NotEmpty(t, f.monitor.States())

	require.Positive(t, testutil.CollectAndCount(f.metrics.Readings))

	f.locations.set(nil, nil)
	report := f.runOnce(t)
	assert.Zero(t, report.Locations)
	assert.Empty(t, f.monitor.States())
	assert.Zero(t, testutil.CollectAndCount(f.metrics.Readings), "reading gauges of removed locations are deleted")
}

func TestMonitor_LocationLoadFailureKeepsPreviousList(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})
	f.tiles.set(uniformTile(t, 0), nil)
	f.runOnce(t)

	f.locations.set(nil, errors.New("yaml: line 3: bad indentation"))
	report := f.runOnce(t)
	assert.Equal(t, 1, report.Locations)
	assert.Len(t, report.Results, 1)
}

func TestMonitor_LocationLoadFailureKeepsAlertState(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})
	f.tiles.set(uniformTile(t, 32), nil)
	require.Len(t, f.runOnce(t).Alerts, 1)

	f.locations.set(nil, fmt.Errorf("read locations file: %w", os.ErrNotExist))
	report := f.runOnce(t)
	assert.Empty(t, report.Alerts)
	assert.Equal(t, domain.StateAbove, f.monitorState(domain.SeverityHeavyRain))

	f.locations.set([]domain.Location{mishima}, nil)
	report = f.runOnce(t)
	assert.Empty(t, report.Alerts, "file reappearing does not re-alert")
}

// gatedNotifier blocks deliveries until release is closed.
type gatedNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	alerts  []string
}

func (g *gatedNotifier) NotifyAlert(ctx context.Context, e domain.AlertEvent) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerts = append(g.alerts, e.Location)
	return nil
}

func (g *gatedNotifier) NotifyHeartbeat(context.Context, domain.HeartbeatEvent) error { return nil }

func TestMonitor_SlowNotifierDoesNotDelayLocations(t *testing.T) {
	tiles := &fakeTiles{}
	tiles.set(uniformTile(t, 32), nil)
	second := mishima
	second.Name = "Numazu Port"
	locations := &staticLocations{locs: []domain.Location{mishima, second}}

	sink := &gatedNotifier{release: make(chan struct{})}
	queue := notify.NewQueue("webhook", sink, 8, discardLogger())

	aggregator := domain.NewSpatialAggregator(domain.NewIntensityDecoder(domain.StepScaleLinear))
	est := monitor.NewEstimator(tiles, aggregator, domain.DefaultZoom, nil, discardLogger())
	mon := monitor.New(locations, fixedResolver{base: baseTime}, est, domain.NewThresholdEvaluator(), queue,
		monitor.Options{Leads: []int{0}, Interval: time.Minute}, discardLogger(), observability.NewMetricsForTesting())

	done := make(chan *monitor.CycleReport, 1)
	go func() {
		report, err := mon.RunOnce(context.Background(), monitor.TriggerManual)
		assert.NoError(t, err)
		done <- report
	}()

	var report *monitor.CycleReport
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle waited on notifier delivery")
	}
	require.Len(t, report.Alerts, 2)
	assert.Len(t, report.Results, 2)
	assert.Empty(t, sink.alerts)

	close(sink.release)
	require.NoError(t, queue.Close(context.Background()))
	assert.ElementsMatch(t, []string{"Mishima Station", "Numazu Port"}, sink.alerts)
}

func TestMonitor_DisabledLocationSkipped(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{})
	off := mishima
	off.Enabled = false
	f.locations.set([]domain.Location{off}, nil)
	f.tiles.set(uniformTile(t, 40), nil)

	report := f.runOnce(t)
	assert.Empty(t, report.Results)
	assert.Zero(t, f.tiles.calls)
}

func TestMonitor_RunOnceIsExclusive(t *testing.T) {
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}})
	f.tiles.set(uniformTile(t, 0), nil)
	f.tiles.entered = make(chan struct{}, 1)
	f.tiles.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.monitor.RunOnce(context.Background(), monitor.TriggerTick)
		done <- err
	}()
	<-f.tiles.entered

	_, err := f.monitor.RunOnce(context.Background(), monitor.TriggerManual)
	require.ErrorIs(t, err, monitor.ErrCycleInProgress)

	close(f.tiles.block)
	require.NoError(t, <-done)
}

func TestMonitor_HeartbeatOncePerSlot(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 9, 0, 30, 0, jst))
	schedule := &domain.HeartbeatSchedule{
		Times: []domain.TimeOfDay{{Hour: 9}, {Hour: 17}},
		Zone:  jst,
		Grace: 3 * time.Minute,
	}
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}, Heartbeat: schedule, Clock: clock})
	f.tiles.set(uniformTile(t, 0), nil)

	report := f.runOnce(t)
	require.Len(t, report.Heartbeats, 1)
	assert.Equal(t, "09:00", report.Heartbeats[0].Scheduled)
	assert.Equal(t, "2025-07-01", report.Heartbeats[0].Date)
	assert.Equal(t, 1, report.Heartbeats[0].Locations)

	clock.Advance(time.Minute)
	report = f.runOnce(t)
	assert.Empty(t, report.Heartbeats)

	clock.Advance(5 * time.Minute)
	report = f.runOnce(t)
	assert.Empty(t, report.Heartbeats)
	assert.Len(t, f.notifier.heartbeats, 1)
}

func TestMonitor_RunTicksUntilCancelled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	f := newFixture(t, fixedResolver{base: baseTime}, monitor.Options{Leads: []int{0}, Clock: clock})
	f.tiles.set(uniformTile(t, 0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	require.Eventually(t, func() bool { return f.monitor.LastReport() != nil }, 2*time.Second, 10*time.Millisecond)
	first := f.monitor.LastReport()
	assert.Equal(t, monitor.TriggerTick, first.Trigger)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool { return f.monitor.LastReport().ID != first.ID }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
