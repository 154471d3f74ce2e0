// Package orchestrator is the core control loop: it owns the event log, the
// boundary detector and the summary log, and it is the only goroutine that
// mutates them. Summarization happens on worker goroutines that report back
// through a completion channel, tagged with a dispatch token so responses
// that outlived their task are discarded instead of applied.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/backend/detector"
	"github.com/Waridley/crumbeez/backend/enrich"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/eventlog"
	"github.com/Waridley/crumbeez/backend/summarizer"
	"github.com/Waridley/crumbeez/backend/summarylog"
	"github.com/Waridley/crumbeez/shared"
	"github.com/Waridley/crumbeez/shared/resilience"
)

// RelatedKeyFunc decides whether recent activity under candidate is worth
// showing as context when summarizing a task under key. members are the
// task's own events, candidateEvents the candidate key's events inside the
// cross-pane window.
type RelatedKeyFunc func(key event.CorrelationKey, members []*event.Event, candidate event.CorrelationKey, candidateEvents []*event.Event) bool

// SharedFileSiblings links sibling panes of the same session that modified
// at least one of the same files inside the window.
func SharedFileSiblings(key event.CorrelationKey, members []*event.Event, candidate event.CorrelationKey, candidateEvents []*event.Event) bool {
	if key.SessionID != candidate.SessionID || key.PaneID == candidate.PaneID {
		return false
	}
	paths := make(map[string]struct{})
	for _, ev := range members {
		if payload, ok := ev.Payload.(*event.FileModifiedPayload); ok {
			paths[payload.Path] = struct{}{}
		}
	}
	if len(paths) == 0 {
		return false
	}
	for _, ev := range candidateEvents {
		if payload, ok := ev.Payload.(*event.FileModifiedPayload); ok {
			if _, touched := paths[payload.Path]; touched {
				return true
			}
		}
	}
	return false
}

type Orchestrator struct {
	settings  *config.Settings
	events    *eventlog.Log
	summaries *summarylog.Log
	backend   summarizer.Backend
	providers []enrich.Provider

	detector   *detector.Detector
	classifier *event.Classifier
	watermark  *Watermark
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	digest     *digestBuilder
	metrics    *orchestratorMetricsProvider
	related    RelatedKeyFunc
	now        func() time.Time

	hostCh      chan event.HostEvent
	completions chan completion
	inflight    map[event.CorrelationKey]uuid.UUID
	recent      []*event.Event

	runCtx  context.Context
	oneshot bool
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithMetricsRegistry(registry *prometheus.Registry) Option {
	return func(o *Orchestrator) {
		o.metrics = newOrchestratorMetricsProvider(registry)
	}
}

func WithProviders(providers ...enrich.Provider) Option {
	return func(o *Orchestrator) {
		o.providers = providers
	}
}

func WithRelatedKeyFunc(fn RelatedKeyFunc) Option {
	return func(o *Orchestrator) {
		o.related = fn
	}
}

func New(settings *config.Settings, events *eventlog.Log, summaries *summarylog.Log, backend summarizer.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		settings:   settings,
		events:     events,
		summaries:  summaries,
		backend:    backend,
		detector:   detector.New(settings.Detector.SafetyTimeout.Std()),
		classifier: event.NewClassifier(),
		watermark:  NewWatermark(),
		breaker:    resilience.NewCircuitBreaker(backend.Name(), 5, 30*time.Second),
		retry: resilience.RetryConfig{
			MaxAttempts:       settings.Retry.MaxAttempts,
			InitialDelay:      settings.Retry.InitialDelay.Std(),
			MaxDelay:          settings.Retry.MaxDelay.Std(),
			BackoffMultiplier: settings.Retry.BackoffMultiplier,
		},
		digest: &digestBuilder{
			maxEvents: settings.Digest.MaxEvents,
			maxBytes:  settings.Digest.MaxBytes,
		},
		related:     SharedFileSiblings,
		now:         time.Now,
		hostCh:      make(chan event.HostEvent, 64),
		completions: make(chan completion, 16),
		inflight:    make(map[event.CorrelationKey]uuid.UUID),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.classifier = event.NewClassifier(event.WithClock(o.now))
	return o
}

// Ingest hands one raw host event to the control loop. It blocks only while
// the loop's buffer is full.
func (o *Orchestrator) Ingest(ctx context.Context, raw event.HostEvent) error {
	select {
	case o.hostCh <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run recovers state from the two logs, re-dispatches any tasks the previous
// process left pending, then serves host events and clock ticks until ctx is
// canceled. It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx

	if err := o.recover(); err != nil {
		return err
	}

	ticker := time.NewTicker(o.settings.Detector.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-o.hostCh:
			o.handleHostEvent(raw)
		case <-ticker.C:
			o.drainHostEvents()
			o.handleTick(o.now())
		case c := <-o.completions:
			o.handleCompletion(c)
		}
	}
}

// recover rebuilds in-memory state: summary headers mark their sequence ids
// consumed, every unconsumed event is replayed through the detector, and any
// pending tasks that result are dispatched again. Running it twice against
// the same logs yields the same state, which is what makes crash recovery
// idempotent.
func (o *Orchestrator) recover() error {
	written, err := o.summaries.Replay()
	if err != nil {
		return err
	}
	latest := make(map[event.CorrelationKey]*summarylog.Summary)
	for _, summary := range written {
		o.watermark.MarkConsumed(summary.SequenceIDs)
		key := event.CorrelationKey{SessionID: summary.SessionID, PaneID: summary.PaneID}
		latest[key] = summary
	}

	// A key whose last summary was a checkpoint had its events stashed as
	// context for the next grouping when the process stopped. Restore the
	// stash before replaying events, which may open new tasks on the key.
	for key, summary := range latest {
		if summary.Checkpoint {
			o.detector.SeedCarryContext(key, summary.SequenceIDs)
		}
	}

	reader, err := o.events.Replay()
	if err != nil {
		return err
	}
	defer reader.Close()

	var replayed int
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, eventlog.ErrEndOfLog) {
				break
			}
			return err
		}
		if o.watermark.IsConsumed(ev.SequenceID) {
			continue
		}
		replayed++
		o.recent = append(o.recent, ev)
		if tr := o.detector.Observe(ev); tr != nil {
			o.metrics.IncrementTasksClosed(string(tr.Reason))
		}
	}
	o.pruneRecent(o.now())

	slog.Info("recovered orchestrator state",
		"summaries", len(written),
		"consumed_events", o.watermark.ConsumedCount(),
		"replayed_events", replayed,
	)

	if !o.oneshot {
		for _, status := range o.detector.Snapshot() {
			if status.PendingCount > 0 {
				o.maybeDispatch(status.Key)
			}
		}
	}
	return nil
}

func (o *Orchestrator) handleHostEvent(raw event.HostEvent) {
	ev, err := o.classifier.Classify(raw)
	if err != nil {
		o.metrics.IncrementMalformed()
		slog.Warn("skipping malformed host event", "type", raw.Type, "error", err)
		return
	}
	if ev == nil {
		return
	}

	seq, err := o.events.Append(ev)
	if err != nil && shared.IsKind(err, shared.ErrorKindIoFailure) {
		slog.Warn("event append failed, retrying once", "kind", ev.Kind, "error", err)
		seq, err = o.events.Append(ev)
	}
	if err != nil {
		o.metrics.IncrementLost()
		slog.Error("EVENT LOST: append failed after retry", "kind", ev.Kind, "key", ev.Key, "error", err)
		return
	}

	o.metrics.IncrementIngested(string(ev.Kind))
	o.recent = append(o.recent, ev)

	if tr := o.detector.Observe(ev); tr != nil {
		o.metrics.IncrementTasksClosed(string(tr.Reason))
		slog.Debug("task closed by boundary", "key", ev.Key, "boundary", ev.Kind, "seq", seq)
		o.maybeDispatch(ev.Key)
	}
}

// drainHostEvents empties the host event buffer before a safety tick is
// evaluated. A boundary that was already queued when the tick fired must
// close its task as a boundary, not leave it to time out and then open a
// second one-event task.
func (o *Orchestrator) drainHostEvents() {
	for {
		select {
		case raw := <-o.hostCh:
			o.handleHostEvent(raw)
		default:
			return
		}
	}
}

func (o *Orchestrator) handleTick(now time.Time) {
	for _, tr := range o.detector.Tick(now) {
		o.metrics.IncrementTasksClosed(string(tr.Reason))
		slog.Debug("task closed by safety timeout", "key", tr.Task.Key, "members", len(tr.Task.Members))
		o.maybeDispatch(tr.Task.Key)
	}
	o.pruneRecent(now)
}

func (o *Orchestrator) handleCompletion(c completion) {
	token, ok := o.inflight[c.key]
	if !ok || token != c.token {
		o.metrics.IncrementStale()
		slog.Warn("discarding stale summarization response", "key", c.key)
		return
	}
	delete(o.inflight, c.key)

	task := o.detector.NextPending(c.key)
	if task == nil {
		// Cannot happen while the dispatch token matched, but never apply a
		// result to a task we cannot see.
		slog.Error("completion arrived for key with no pending task", "key", c.key)
		return
	}

	if c.err != nil {
		o.metrics.ObserveSummarization(o.backend.Name(), "abandoned", c.elapsed)
		o.detector.Abandoned(c.key)
		slog.Error("summarization abandoned, events carried over",
			"key", c.key, "members", len(task.Members), "attempts", c.attempts, "error", c.err)
		o.maybeDispatch(c.key)
		return
	}

	record := &summarylog.Summary{
		SessionID:          task.Key.SessionID,
		PaneID:             task.Key.PaneID,
		WindowStart:        c.windowStart,
		WindowEnd:          c.windowEnd,
		SequenceIDs:        consumedSequenceIDs(task),
		Backend:            o.backend.Name(),
		ContextUsed:        c.contextUsed,
		ContextUnavailable: c.contextMissing,
		Checkpoint:         task.Reason == detector.ReasonTimeout,
		CreatedAt:          o.now().UTC(),
		Text:               c.text,
	}

	err := o.summaries.Append(record)
	if err != nil {
		slog.Warn("summary append failed, retrying once", "key", c.key, "error", err)
		err = o.summaries.Append(record)
	}
	if err != nil {
		// Without a durable record the events must not be marked consumed.
		o.metrics.ObserveSummarization(o.backend.Name(), "abandoned", c.elapsed)
		o.detector.Abandoned(c.key)
		slog.Error("SUMMARY LOST: append failed after retry, events carried over", "key", c.key, "error", err)
		o.maybeDispatch(c.key)
		return
	}

	o.watermark.MarkConsumed(record.SequenceIDs)
	o.detector.Summarized(c.key)
	o.metrics.ObserveSummarization(o.backend.Name(), "summarized", c.elapsed)
	slog.Info("task summarized",
		"key", c.key, "events", len(record.SequenceIDs), "checkpoint", record.Checkpoint, "attempts", c.attempts)

	o.maybeDispatch(c.key)
}

// maybeDispatch starts summarizing the key's oldest pending task unless a
// dispatch for this key is already in flight. One dispatch per key keeps
// summaries on a key in task order.
func (o *Orchestrator) maybeDispatch(key event.CorrelationKey) {
	if _, busy := o.inflight[key]; busy {
		return
	}
	task := o.detector.NextPending(key)
	if task == nil {
		return
	}

	req, keys, err := o.buildRequest(task)
	if err != nil {
		slog.Error("cannot load task events, abandoning", "key", key, "error", err)
		o.detector.Abandoned(key)
		return
	}

	token := uuid.New()
	o.inflight[key] = token

	go o.dispatch(o.runCtx, key, token, req, keys)
}

func (o *Orchestrator) buildRequest(task *detector.Task) (*summarizer.Request, enrich.Keys, error) {
	members, err := o.events.Collect(task.Members)
	if err != nil {
		return nil, enrich.Keys{}, err
	}
	carried, err := o.events.Collect(task.CarriedUnconsumed)
	if err != nil {
		return nil, enrich.Keys{}, err
	}

	digest, lines := o.digest.Build(members, carried)
	windowStart, windowEnd := window(append(carried, members...))

	req := &summarizer.Request{
		Key:         task.Key.String(),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Digest:      digest,
		Events:      lines,
		Context:     make(map[string]string),
	}
	o.addCheckpointContext(req, task)
	o.addRelatedPaneContext(req, task.Key, members, windowStart, windowEnd)
	return req, enrichKeys(members), nil
}

// addCheckpointContext folds events already consumed by an earlier checkpoint
// summary on this key into the request as plain context. They are never part
// of the request's event lines, so they cannot be recorded as consumed twice.
func (o *Orchestrator) addCheckpointContext(req *summarizer.Request, task *detector.Task) {
	if len(task.CarriedContext) == 0 {
		return
	}
	events, err := o.events.Collect(task.CarriedContext)
	if err != nil {
		slog.Warn("cannot load checkpoint context events", "key", task.Key, "error", err)
		return
	}
	_, lines := o.digest.Build(events, nil)
	req.Context["earlier checkpoint on this pane"] = renderDigest(lines, 0)
}

func (o *Orchestrator) addRelatedPaneContext(req *summarizer.Request, key event.CorrelationKey, members []*event.Event, start, end time.Time) {
	if !o.settings.Digest.CrossPane.Enabled {
		return
	}
	window := o.settings.Digest.CrossPane.Window.Std()

	inWindow := make(map[event.CorrelationKey][]*event.Event)
	var candidates []event.CorrelationKey
	for _, ev := range o.recent {
		if ev.Key == key {
			continue
		}
		if ev.Timestamp.Before(start.Add(-window)) || ev.Timestamp.After(end.Add(window)) {
			continue
		}
		if _, seen := inWindow[ev.Key]; !seen {
			candidates = append(candidates, ev.Key)
		}
		inWindow[ev.Key] = append(inWindow[ev.Key], ev)
	}

	var related []*event.Event
	for _, candidate := range candidates {
		if o.related(key, members, candidate, inWindow[candidate]) {
			related = append(related, inWindow[candidate]...)
		}
	}
	if len(related) == 0 {
		return
	}
	sort.Slice(related, func(i, j int) bool { return related[i].SequenceID < related[j].SequenceID })

	_, lines := o.digest.Build(related, nil)
	req.Context["concurrent activity in sibling panes"] = renderDigest(lines, 0)
}

type completion struct {
	key            event.CorrelationKey
	token          uuid.UUID
	text           string
	contextUsed    []string
	contextMissing []string
	windowStart    time.Time
	windowEnd      time.Time
	attempts       uint
	elapsed        time.Duration
	err            error
}

// dispatch runs off the control loop. It gathers enrichment, calls the
// backend with retries behind the circuit breaker, and posts exactly one
// completion back.
func (o *Orchestrator) dispatch(ctx context.Context, key event.CorrelationKey, token uuid.UUID, req *summarizer.Request, keys enrich.Keys) {
	c := completion{
		key:         key,
		token:       token,
		windowStart: req.WindowStart,
		windowEnd:   req.WindowEnd,
	}
	started := time.Now()

	c.contextUsed, c.contextMissing = o.fetchEnrichment(ctx, req, keys)
	c.text, c.err = o.summarizeWithRetry(ctx, req, &c.attempts)
	c.elapsed = time.Since(started)

	select {
	case o.completions <- c:
	case <-ctx.Done():
	}
}

// fetchEnrichment fills req.Context from the configured providers. Provider
// failure never fails the summarization, it only gets recorded as
// unavailable.
func (o *Orchestrator) fetchEnrichment(ctx context.Context, req *summarizer.Request, keys enrich.Keys) (used, missing []string) {
	for _, provider := range o.providers {
		fetchCtx, cancel := context.WithTimeout(ctx, o.settings.Providers.FetchTimeout.Std())
		bundle, err := provider.Fetch(fetchCtx, keys)
		cancel()
		if err != nil {
			missing = append(missing, provider.Name())
			slog.Debug("context provider unavailable", "provider", provider.Name(), "key", req.Key, "error", err)
			continue
		}
		used = append(used, provider.Name())
		req.Context[provider.Name()] = bundle.Content
	}
	return used, missing
}

func (o *Orchestrator) summarizeWithRetry(ctx context.Context, req *summarizer.Request, attempts *uint) (string, error) {
	if !o.breaker.Allow() {
		return "", summarizer.NewBackendError(o.backend.Name(), summarizer.ErrorKindOverloaded,
			errors.New("circuit breaker open"))
	}

	text, err := retry.DoWithData(
		func() (string, error) {
			*attempts++
			callCtx, cancel := context.WithTimeout(ctx, o.settings.Backend.RequestTimeout.Std())
			defer cancel()

			text, err := o.backend.Summarize(callCtx, req)
			if err != nil && callCtx.Err() == context.DeadlineExceeded {
				return "", summarizer.NewBackendError(o.backend.Name(), summarizer.ErrorKindTimeout, err)
			}
			return text, err
		},
		retry.DelayType(retry.DelayTypeFunc(o.retryDelay)),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(attempt uint, err error) {
			slog.Debug("retrying summarization", "backend", o.backend.Name(), "attempt", attempt+1, "error", err)
		}),
		retry.Attempts(o.retry.MaxAttempts),
		retry.MaxDelay(o.retry.MaxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)

	o.breaker.RecordResult(err)
	return text, err
}

func isRetryableError(err error) bool {
	var backendErr *summarizer.BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Retryable()
	}
	return true
}

// retryDelay honors backend-directed timing when present, otherwise backs
// off exponentially from the configured initial delay. Both paths get a
// little jitter.
func (o *Orchestrator) retryDelay(attempt uint, err error, _ *retry.Config) time.Duration {
	jitter := time.Duration(rand.Float64() * 100 * float64(time.Millisecond))

	var backendErr *summarizer.BackendError
	if errors.As(err, &backendErr) && backendErr.RetryAfter > 0 {
		return backendErr.RetryAfter + jitter
	}
	return o.retry.Backoff(attempt) + jitter
}

func (o *Orchestrator) pruneRecent(now time.Time) {
	if len(o.recent) == 0 {
		return
	}
	horizon := now.Add(-o.settings.Detector.SafetyTimeout.Std() - o.settings.Digest.CrossPane.Window.Std())
	cut := 0
	for cut < len(o.recent) && o.recent[cut].Timestamp.Before(horizon) {
		cut++
	}
	o.recent = o.recent[cut:]
}

// consumedSequenceIDs is the partition set a summary records: the task's own
// members plus any carried unconsumed events, in sequence order.
func consumedSequenceIDs(task *detector.Task) []uint64 {
	seqs := make([]uint64, 0, len(task.CarriedUnconsumed)+len(task.Members))
	seqs = append(seqs, task.CarriedUnconsumed...)
	seqs = append(seqs, task.Members...)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func window(events []*event.Event) (time.Time, time.Time) {
	var start, end time.Time
	for _, ev := range events {
		if start.IsZero() || ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
		if ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
	}
	return start, end
}
