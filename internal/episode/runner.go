// Package episode orchestrates one wake of the node.
//
// An episode is the node's whole working life between sleeps: sample
// the instruments while the radio is still down, bring the link up,
// begin the broker session, drain whatever backlog earlier wakes left
// behind, publish the fresh reading, and account for it all in a
// Report. Every step degrades instead of aborting; a wake that gets
// nothing done still ends with the sample safely buffered and the
// node heading back to sleep.
package episode

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/obuf"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

// Link is the network layer the episode depends on.
// This allows mocking in tests and flexibility in implementation.
type Link interface {
	// Connect establishes the link within the timeout.
	Connect(ctx context.Context, timeout time.Duration) error

	// LastRSSI reports the signal strength of the current
	// association in dBm, 0 when unknown.
	LastRSSI() int
}

// Session is the broker session surface the episode depends on.
// Satisfied by *session.Manager; its method set also covers
// obuf.Publisher, so the same value feeds the backlog drain.
type Session interface {
	// Begin dials the broker and announces the node.
	Begin(ctx context.Context) error

	// IsConnected reports whether a live session exists.
	IsConnected() bool

	// Publish sends one message through the session.
	Publish(topic string, payload []byte, retained bool) error

	// PublishReading publishes a reading to the retained state topics.
	PublishReading(r telemetry.Reading) error
}

// Sampler acquires one reading from the local instruments.
type Sampler interface {
	Sample(ctx context.Context) (telemetry.Reading, error)
}

// Metrics is the optional diagnostics sink. Satisfied by
// *influxdb.Client.
type Metrics interface {
	WriteWakeEpisode(nodeID string, fields map[string]interface{})
	WriteReadingAt(nodeID string, fields map[string]interface{}, at time.Time)
	Flush()
}

// Report is the accounting for one wake episode.
type Report struct {
	// Started is when the episode began.
	Started time.Time

	// Duration is the whole episode, sample to report.
	Duration time.Duration

	// LinkUp records whether the network link was established.
	// True when no link manager is configured (the host is assumed
	// connected).
	LinkUp bool

	// LinkTime is how long link establishment took.
	LinkTime time.Duration

	// RSSI is the joined signal strength in dBm, 0 when unknown.
	RSSI int

	// SessionUp records whether the broker session began.
	SessionUp bool

	// SessionTime is how long the session connect took.
	SessionTime time.Duration

	// Sampled records whether a fresh reading was acquired.
	Sampled bool

	// Reading is the acquired reading, valid when Sampled.
	Reading telemetry.Reading

	// Published records whether the fresh reading reached the broker.
	Published bool

	// Buffered records whether the fresh reading went to the offline
	// buffer instead.
	Buffered bool

	// Drained is the backlog drain outcome.
	Drained obuf.DrainResult

	// Backlog is the number of samples still buffered at episode end.
	Backlog int
}

// Options holds dependencies for creating a Runner.
type Options struct {
	// Config is the loaded node configuration.
	Config *config.Config

	// Link manages the network join. Nil means the host is already
	// connected (bench mode) and the step is skipped.
	Link Link

	// Session manages the broker session. Required.
	Session Session

	// Buffer is the offline sample store. Required.
	Buffer *obuf.Buffer

	// Sampler reads the local instruments. Nil means the node has no
	// instruments attached and publishes only backlog.
	Sampler Sampler

	// Metrics receives episode diagnostics. Nil disables them.
	Metrics Metrics

	// Logger for episode milestones. Defaults to logging.Default().
	Logger *logging.Logger
}

// Runner executes wake episodes. One Runner serves the whole process;
// Run is called once per wake. Not safe for concurrent use.
type Runner struct {
	cfg     *config.Config
	link    Link
	sess    Session
	buffer  *obuf.Buffer
	sampler Sampler
	metrics Metrics
	log     *logging.Logger
}

// NewRunner creates an episode runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("episode: config is required")
	}
	if opts.Session == nil {
		return nil, errors.New("episode: session is required")
	}
	if opts.Buffer == nil {
		return nil, errors.New("episode: buffer is required")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	return &Runner{
		cfg:     opts.Config,
		link:    opts.Link,
		sess:    opts.Session,
		buffer:  opts.Buffer,
		sampler: opts.Sampler,
		metrics: opts.Metrics,
		log:     log.With("component", "episode"),
	}, nil
}

// Run executes one wake episode: sample, connect, begin, drain,
// publish, report.
//
// Run never fails; every outcome is a normal episode. The Report says
// what got done. The caller owns what happens next: sleep, loop, or
// shut down.
func (r *Runner) Run(ctx context.Context) Report {
	rep := Report{Started: time.Now()}
	r.log.Info("wake episode starting")

	r.sample(ctx, &rep)

	if !r.establishLink(ctx, &rep) {
		r.bufferReading(ctx, &rep)
		return r.finish(ctx, rep)
	}

	if !r.beginSession(ctx, &rep) {
		r.bufferReading(ctx, &rep)
		return r.finish(ctx, rep)
	}

	r.drain(ctx, &rep)
	r.publish(ctx, &rep)

	return r.finish(ctx, rep)
}

// sample acquires a fresh reading while the radio is still down.
func (r *Runner) sample(ctx context.Context, rep *Report) {
	if r.sampler == nil {
		return
	}

	reading, err := r.sampler.Sample(ctx)
	if err != nil {
		r.log.Warn("sampling failed, nothing fresh this wake", "error", err)
		return
	}

	rep.Reading = reading
	rep.Sampled = true
}

// establishLink brings the network up. Returns false when the episode
// continues offline.
func (r *Runner) establishLink(ctx context.Context, rep *Report) bool {
	if r.link == nil {
		rep.LinkUp = true
		return true
	}

	start := time.Now()
	err := r.link.Connect(ctx, r.cfg.WiFiConnectTimeout())
	rep.LinkTime = time.Since(start)

	if err != nil {
		r.log.Warn("link failed, episode continues offline",
			"error", err,
			"elapsed", rep.LinkTime,
		)
		return false
	}

	rep.LinkUp = true
	rep.RSSI = r.link.LastRSSI()
	r.log.Info("link established", "elapsed", rep.LinkTime, "rssi", rep.RSSI)
	return true
}

// beginSession starts the broker session over the established link.
func (r *Runner) beginSession(ctx context.Context, rep *Report) bool {
	start := time.Now()
	err := r.sess.Begin(ctx)
	rep.SessionTime = time.Since(start)

	if err != nil {
		r.log.Warn("session failed, episode continues offline",
			"error", err,
			"elapsed", rep.SessionTime,
		)
		return false
	}

	rep.SessionUp = true
	r.log.Info("session established", "elapsed", rep.SessionTime)
	return true
}

// drain replays backlog through the live session under the configured
// budget.
func (r *Runner) drain(ctx context.Context, rep *Report) {
	budget := obuf.Budget{
		MaxDuration: r.cfg.DrainMaxDuration(),
		MaxBytes:    r.cfg.Buffer.Drain.MaxBytes,
	}

	res, err := r.buffer.Drain(ctx, r.sess, budget)
	rep.Drained = res
	if err != nil {
		r.log.Warn("drain stopped early", "error", err, "published", res.Published)
		return
	}
	if res.Published > 0 || res.Skipped > 0 {
		r.log.Info("backlog drained",
			"published", res.Published,
			"bytes", res.Bytes,
			"skipped", res.Skipped,
		)
	}
}

// publish sends the fresh reading to the retained state topics,
// falling back to the buffer on failure.
func (r *Runner) publish(ctx context.Context, rep *Report) {
	if !rep.Sampled {
		return
	}

	if err := r.sess.PublishReading(rep.Reading); err != nil {
		r.log.Warn("publish failed, buffering reading", "error", err)
		r.bufferReading(ctx, rep)
		return
	}

	rep.Published = true
}

// bufferReading stores the fresh reading for a future drain. Only
// environment readings are buffered; the history stream carries no
// battery fields.
func (r *Runner) bufferReading(ctx context.Context, rep *Report) {
	if !rep.Sampled || !rep.Reading.HasEnv || rep.Published {
		return
	}

	// A shutdown mid-episode must not lose the sample.
	ctx = context.WithoutCancel(ctx)

	s := obuf.Sample{
		TS:    rep.Reading.TakenAt.Unix(),
		TempC: rep.Reading.TempC,
		Hum:   rep.Reading.Humidity,
	}
	if err := r.buffer.Enqueue(ctx, s); err != nil {
		r.log.Error("buffering reading failed, sample lost", "error", err)
		return
	}

	rep.Buffered = true
	r.log.Debug("reading buffered", "ts", s.TS)
}

// finish closes the books: remaining backlog, total duration, and the
// optional diagnostics write.
func (r *Runner) finish(ctx context.Context, rep Report) Report {
	ctx = context.WithoutCancel(ctx)

	if n, err := r.buffer.Len(ctx); err != nil {
		r.log.Warn("backlog size unavailable", "error", err)
	} else {
		rep.Backlog = n
	}

	rep.Duration = time.Since(rep.Started)

	if r.metrics != nil {
		if rep.Sampled {
			r.metrics.WriteReadingAt(r.cfg.Node.ID, readingFields(rep.Reading), rep.Reading.TakenAt)
		}
		r.metrics.WriteWakeEpisode(r.cfg.Node.ID, episodeFields(rep))
		r.metrics.Flush()
	}

	r.log.Info("wake episode complete",
		"duration", rep.Duration,
		"link_up", rep.LinkUp,
		"session_up", rep.SessionUp,
		"published", rep.Published,
		"buffered", rep.Buffered,
		"drained", rep.Drained.Published,
		"backlog", rep.Backlog,
	)

	return rep
}

// episodeFields flattens a report for the diagnostics sink.
func episodeFields(rep Report) map[string]interface{} {
	fields := map[string]interface{}{
		"duration_ms":   float64(rep.Duration.Milliseconds()),
		"wifi_ms":       float64(rep.LinkTime.Milliseconds()),
		"session_ms":    float64(rep.SessionTime.Milliseconds()),
		"link_up":       rep.LinkUp,
		"session_up":    rep.SessionUp,
		"sampled":       rep.Sampled,
		"published":     rep.Published,
		"buffered":      rep.Buffered,
		"drained":       rep.Drained.Published,
		"drain_bytes":   rep.Drained.Bytes,
		"drain_skipped": rep.Drained.Skipped,
		"backlog":       rep.Backlog,
	}
	if rep.RSSI != 0 {
		fields["rssi"] = rep.RSSI
	}
	return fields
}

// readingFields flattens the valid facets of a reading.
func readingFields(r telemetry.Reading) map[string]interface{} {
	fields := make(map[string]interface{})
	if r.HasEnv {
		fields["temp_c"] = r.TempC
		fields["humidity"] = r.Humidity
		fields["pressure_hpa"] = r.PressureHPa
	}
	if r.HasBattery {
		fields["battery_volts"] = r.BatteryVolts
		fields["battery_percent"] = r.BatteryPercent
	}
	return fields
}
