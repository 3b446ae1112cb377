// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on a ticker (default once per
// minute) and one final time on Close, so a long shell session produces a time
// series rather than a single spike at exit. Flush snapshots and resets the
// buffers under the lock, then submits outside it.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// Service becomes tag "service:<name>" on every metric. Defaults to "dataforge".
	Service string
	// Tags are extra Datadog tags such as "env:prod".
	Tags []string
	// FlushEvery controls how often buffered metrics are submitted. Defaults to 60s.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu           sync.Mutex
	commandCount map[string]float64   // command\x00status -> count
	commandDur   map[string][]float64 // command\x00status -> seconds
	rowsLoaded   map[string]float64   // format -> rows
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and starts
// its flush loop. Credentials come from DD_API_KEY / DD_SITE as read by the client.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	service := opts.Service
	if service == "" {
		service = "dataforge"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "service:"+service)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:          submitter,
		ctx:          dd.NewDefaultContext(parent),
		flushEvery:   flushEvery,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		baseTags:     baseTags,
		now:          nowFn,
		newTicker:    newTicker,
		commandCount: make(map[string]float64),
		commandDur:   make(map[string][]float64),
		rowsLoaded:   make(map[string]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. It is safe to call twice.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown metric names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.CommandTotal:
		b.commandCount[commandKey(labels)] += delta
	case metrics.RowsLoadedTotal:
		format := labels["format"]
		if format == "" {
			format = "unknown"
		}
		b.rowsLoaded[format] += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == metrics.CommandDuration {
		k := commandKey(labels)
		b.commandDur[k] = append(b.commandDur[k], value)
	}
}

type snapshot struct {
	commandCount map[string]float64
	commandDur   map[string][]float64
	rowsLoaded   map[string]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.commandCount) == 0 && len(s.commandDur) == 0 && len(s.rowsLoaded) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := snapshot{commandCount: b.commandCount, commandDur: b.commandDur, rowsLoaded: b.rowsLoaded}
	b.commandCount = make(map[string]float64)
	b.commandDur = make(map[string][]float64)
	b.rowsLoaded = make(map[string]float64)
	return s
}

// Flush submits buffered metrics and resets the buffers, even when submission
// fails. It returns nil without submitting when nothing was recorded.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Series are sorted by metric name then tags.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.commandCount)+len(s.rowsLoaded)+6*len(s.commandDur))

	for k, v := range s.commandCount {
		command, status := splitKey(k)
		series = append(series, point("dataforge.command.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "command:"+command, "status:"+status), nowUnix))
	}
	for format, v := range s.rowsLoaded {
		series = append(series, point("dataforge.rows_loaded.total", datadogV2.METRICINTAKETYPE_COUNT, v,
			withTags(b.baseTags, "format:"+format), nowUnix))
	}
	for k, samples := range s.commandDur {
		if len(samples) == 0 {
			continue
		}
		command, status := splitKey(k)
		tags := withTags(b.baseTags, "command:"+command, "status:"+status)
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		const prefix = "dataforge.command.duration_seconds"
		series = append(series,
			point(prefix+".p50", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.50), tags, nowUnix),
			point(prefix+".p90", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.90), tags, nowUnix),
			point(prefix+".p99", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, 0.99), tags, nowUnix),
			point(prefix+".max", datadogV2.METRICINTAKETYPE_GAUGE, cp[len(cp)-1], tags, nowUnix),
			point(prefix+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(cp)), tags, nowUnix),
		)
	}

	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func commandKey(labels metrics.Labels) string {
	command := labels["command"]
	if command == "" {
		command = "unknown"
	}
	status := labels["status"]
	if status == "" {
		status = "unknown"
	}
	return command + "\x00" + status
}

func splitKey(k string) (command, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	return fmt.Errorf("datadog metrics init: %w", err)
}
