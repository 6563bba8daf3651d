package controller

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"furitingoasis/growbox/internal/actuators"
	"furitingoasis/growbox/internal/dashboard"
	"furitingoasis/growbox/internal/logger"
	"furitingoasis/growbox/internal/models"
	"furitingoasis/growbox/internal/schedule"
	"furitingoasis/growbox/internal/statusserver"
	"furitingoasis/growbox/mqtt"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// After advances the clock by d and fires at once.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type edge struct {
	On bool
	At time.Duration
}

// edgeRecorder records every state change of the wrapped set with its offset from start.
type edgeRecorder struct {
	inner actuators.Set
	clock *fakeClock
	start time.Time
	edges map[models.Actuator][]edge
}

func (r *edgeRecorder) Set(name models.Actuator, on bool) error {
	was := r.inner.State(name)
	if err := r.inner.Set(name, on); err != nil {
		return err
	}
	if was != on {
		r.edges[name] = append(r.edges[name], edge{On: on, At: r.clock.now.Sub(r.start)})
	}
	return nil
}

func (r *edgeRecorder) State(name models.Actuator) bool { return r.inner.State(name) }

type fakeSensors struct {
	reading models.SensorReading
	reads   int
}

func (s *fakeSensors) Read() models.SensorReading {
	s.reads++
	return s.reading
}

type fakeTelemetry struct {
	events  []models.EventLogEntry
	devices []mqtt.Devices
	sensors []mqtt.Sensors
}

func (t *fakeTelemetry) PublishEvent(e models.EventLogEntry) { t.events = append(t.events, e) }
func (t *fakeTelemetry) PublishDevices(d mqtt.Devices) { t.devices = append(t.devices, d) }
func (t *fakeTelemetry) PublishSensors(s mqtt.Sensors) { t.sensors = append(t.sensors, s) }

type serverFunc func(limit time.Time) error

func (f serverFunc) ServeOnce(limit time.Time) error { return f(limit) }

type harness struct {
	ctrl      *Controller
	clock     *fakeClock
	set       *actuators.Memory
	edges     *edgeRecorder
	sensors   *fakeSensors
	telemetry *fakeTelemetry
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	renderer, err := dashboard.NewRenderer()
	require.NoError(t, err)

	h := &harness{
		clock:     &fakeClock{now: start},
		set:       actuators.NewMemory(),
		sensors:   &fakeSensors{},
		telemetry: &fakeTelemetry{},
	}
	h.edges = &edgeRecorder{inner: h.set, clock: h.clock, start: start, edges: map[models.Actuator][]edge{}}
	h.ctrl = New(Options{
		Schedule:    schedule.DefaultConfig(),
		LogCapacity: 50,
		Interval:    time.Millisecond,
		Location:    time.UTC,
		Clock:       h.clock.Now,
		After:       h.clock.After,
	}, h.edges, h.sensors, renderer, h.telemetry, logger.Nop())
	return h
}

// idleServer waits out the accept window like a status server nobody connects to, then
// calls served with the number of calls so far.
func (h *harness) idleServer(served func(calls int)) serverFunc {
	calls := 0
	return func(limit time.Time) error {
		timeout := h.clock.now.Add(statusserver.DefaultOptions().AcceptTimeout)
		if limit.IsZero() || limit.After(timeout) {
			limit = timeout
		}
		h.clock.now = limit
		calls++
		served(calls)
		return nil
	}
}

// busyServer answers a client at once on every call.
func (h *harness) busyServer(served func(calls int)) serverFunc {
	calls := 0
	return func(time.Time) error {
		calls++
		served(calls)
		return nil
	}
}

func eventLabels(entries []models.EventLogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func morning() time.Time {
	return time.Date(2025, time.July, 14, 8, 0, 0, 0, time.UTC)
}

func TestTick_FirstTickInsideWindow(t *testing.T) {
	h := newHarness(t, morning())
	h.sensors.reading = models.SensorReading{
		TemperatureF: models.Known(70),
		HumidityPct:  models.Known(50),
		SoilPct:      models.Known(50),
	}

	require.NoError(t, h.ctrl.Tick())

	assert.Equal(t, []string{models.EventFanPeriodic, models.EventLightOn}, eventLabels(h.ctrl.Events()))
	st := h.ctrl.State()
	assert.Equal(t, models.On, st.Light)
	assert.Equal(t, models.On, st.Fan)
	assert.Equal(t, models.Off, st.Pump)
	assert.Equal(t, h.sensors.reading, h.ctrl.LastReading())

	assert.Len(t, h.telemetry.events, 2)
	require.Len(t, h.telemetry.devices, 1)
	assert.Equal(t, mqtt.Devices{
		Light:      "ON",
		Fan:        "ON",
		Pump:       "OFF",
		LastFanRun: "2025-07-14T08:00:00Z",
		Timestamp:  "2025-07-14T08:00:00Z",
	}, h.telemetry.devices[0])
	require.Len(t, h.telemetry.sensors, 1)
	assert.Equal(t, models.Known(70), h.telemetry.sensors[0].TemperatureF)
}

func TestTick_RunsExpireOnLaterTicks(t *testing.T) {
	h := newHarness(t, morning())
	h.sensors.reading = models.SensorReading{SoilPct: models.Known(20)}

	require.NoError(t, h.ctrl.Tick())
	assert.Equal(t, models.On, h.ctrl.State().Pump)
	assert.Equal(t, morning().Add(time.Second), h.ctrl.State().NextDeadline())

	h.sensors.reading = models.SensorReading{SoilPct: models.Known(60)}
	h.clock.Advance(time.Second)
	require.NoError(t, h.ctrl.Tick())
	assert.Equal(t, models.Off, h.ctrl.State().Pump)
	assert.False(t, h.set.State(models.Pump))
	assert.Equal(t, models.On, h.ctrl.State().Fan, "periodic fan still has 19s to run")

	h.clock.Advance(19 * time.Second)
	require.NoError(t, h.ctrl.Tick())
	assert.Equal(t, models.Off, h.ctrl.State().Fan)
	assert.True(t, h.ctrl.State().NextDeadline().IsZero())
}

func TestRenderDashboard_BeforeFirstTick(t *testing.T) {
	h := newHarness(t, morning())

	page, err := h.ctrl.RenderDashboard()
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, `<span id="temp">--</span>`)
	assert.Contains(t, html, `<span id="humidity">--</span>`)
	assert.Contains(t, html, `<span id="soil">--</span>`)
	assert.Equal(t, 0, strings.Count(html, `<tr class="event">`))
	assert.Contains(t, html, "07/14/2025 08:00:00")
}

func TestRenderDashboard_AfterTick(t *testing.T) {
	h := newHarness(t, morning())
	h.sensors.reading = models.SensorReading{SoilPct: models.Known(48.126)}
	require.NoError(t, h.ctrl.Tick())

	page, err := h.ctrl.RenderDashboard()
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, `<span id="light">ON</span>`)
	assert.Contains(t, html, `<span id="soil">48.13 %</span>`)
	assert.Equal(t, 2, strings.Count(html, `<tr class="event">`))
}

func TestManualPumpThroughStatusServer(t *testing.T) {
	h := newHarness(t, morning())
	require.NoError(t, h.ctrl.Tick())
	before := len(h.ctrl.Events())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := statusserver.New(ln, h.ctrl, statusserver.DefaultOptions(), logger.Nop())
	defer srv.Close()

	resp := make(chan string, 1)
	go func() {
		conn, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			resp <- err.Error()
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("xx GET /?pump=1 HTTP/1.1\r\nHost: box\r\nX-Junk: GET /?pump=1\r\n\r\n"))
		b, _ := io.ReadAll(conn)
		resp <- string(b)
	}()
	require.NoError(t, srv.ServeOnce(time.Time{}))

	got := <-resp
	assert.True(t, strings.HasPrefix(got, "HTTP/1.1 302 Found\r\n"), got)
	assert.Contains(t, got, "Location: /\r\n")

	events := h.ctrl.Events()
	require.Len(t, events, before+1)
	assert.Equal(t, models.EventPumpManual, events[0].Event)
	assert.Equal(t, models.On, h.ctrl.State().Pump)
	assert.True(t, h.set.State(models.Pump))
}

func TestRun_PassesNextDeadlineToServer(t *testing.T) {
	h := newHarness(t, morning())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var limits []time.Time
	h.ctrl.Run(ctx, serverFunc(func(limit time.Time) error {
		limits = append(limits, limit)
		cancel()
		return nil
	}))

	require.Len(t, limits, 1)
	assert.Equal(t, morning().Add(20*time.Second), limits[0], "periodic fan deadline")
}

func TestRun_SurvivesPanicsAndSwitchesOffOnExit(t *testing.T) {
	h := newHarness(t, morning())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h.ctrl.Run(ctx, serverFunc(func(time.Time) error {
		calls++
		switch calls {
		case 1:
			panic("socket exploded")
		case 2:
			return net.ErrClosed
		}
		cancel()
		return nil
	}))

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, h.sensors.reads)
	for _, name := range models.Actuators {
		assert.False(t, h.set.State(name), "%s left on", name)
	}
}

func TestRun_StopsWhenServerFailsAfterCancel(t *testing.T) {
	h := newHarness(t, morning())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	h.ctrl.Run(ctx, serverFunc(func(time.Time) error {
		calls++
		cancel()
		return net.ErrClosed
	}))
	assert.Equal(t, 1, calls)
}

func TestNew_NilTelemetry(t *testing.T) {
	renderer, err := dashboard.NewRenderer()
	require.NoError(t, err)
	c := New(Options{Schedule: schedule.DefaultConfig(), Location: time.UTC}, actuators.NewMemory(), &fakeSensors{}, renderer, nil, logger.Nop())

	require.NoError(t, c.Tick())
	assert.NotEmpty(t, c.Events())
}

func TestRun_DrySoilWatersInSeparateRuns(t *testing.T) {
	tests := []struct {
		name   string
		server func(h *harness, served func(int)) serverFunc
		calls  int
		want   []edge
	}{
		{
			name:   "no clients",
			server: (*harness).idleServer,
			calls:  3,
			want: []edge{
				{On: true, At: 0}, {On: false, At: time.Second},
				{On: true, At: 2 * time.Second}, {On: false, At: 3 * time.Second},
				{On: true, At: 4 * time.Second}, {On: false, At: 5 * time.Second},
			},
		},
		{
			name:   "client every pass",
			server: (*harness).busyServer,
			calls:  4,
			want: []edge{
				{On: true, At: 0}, {On: false, At: time.Second},
				{On: true, At: 2 * time.Second}, {On: false, At: 3 * time.Second},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, morning())
			h.ctrl.opts.Interval = time.Second
			h.ctrl.state.LastFanRun = morning()
			h.sensors.reading = models.SensorReading{SoilPct: models.Known(10)}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			h.ctrl.Run(ctx, tc.server(h, func(calls int) {
				if calls == tc.calls {
					cancel()
				}
			}))

			got := h.edges.edges[models.Pump]
			assert.Equal(t, tc.want, got)
			assertRuns(t, got, h.ctrl.opts.Schedule.PumpRun, h.ctrl.opts.Interval)
			assert.Empty(t, h.edges.edges[models.Fan])
		})
	}
}

func TestRun_HumidFanRunsForItsDuration(t *testing.T) {
	h := newHarness(t, morning())
	h.ctrl.opts.Interval = time.Second
	h.ctrl.state.LastFanRun = morning()
	h.sensors.reading = models.SensorReading{HumidityPct: models.Known(75), SoilPct: models.Known(50)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.ctrl.Run(ctx, h.idleServer(func(calls int) {
		if calls == 4 {
			cancel()
		}
	}))

	got := h.edges.edges[models.Fan]
	assert.Equal(t, []edge{
		{On: true, At: 0}, {On: false, At: 10 * time.Second},
		{On: true, At: 11 * time.Second}, {On: false, At: 21 * time.Second},
	}, got)
	assertRuns(t, got, h.ctrl.opts.Schedule.FanHumidityRun, h.ctrl.opts.Interval)
	assert.Empty(t, h.edges.edges[models.Pump])
}

// assertRuns checks that edges alternate on/off, that every run lasts run and that the
// actuator rests at least gap between runs.
func assertRuns(t *testing.T, edges []edge, run, gap time.Duration) {
	t.Helper()
	require.NotEmpty(t, edges)
	require.Zero(t, len(edges)%2, "run left on: %v", edges)
	for i := 0; i < len(edges); i += 2 {
		require.True(t, edges[i].On)
		require.False(t, edges[i+1].On)
		assert.Equal(t, run, edges[i+1].At-edges[i].At, "run %d", i/2)
		if i > 0 {
			assert.GreaterOrEqual(t, edges[i].At-edges[i-1].At, gap, "rest before run %d", i/2)
		}
	}
}
