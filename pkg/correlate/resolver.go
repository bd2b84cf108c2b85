// Package correlate matches asynchronously delivered push events to pending
// client-submitted jobs. A consumer submits a job with the correlation key it
// got from the synchronous REST acknowledgement; the resolver watches the
// event store for the first event whose payload carries the same key fields
// and resolves the job to a typed outcome.
package correlate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/store"
)

// Key is the composite correlation key, e.g. {"app_run_id": 42, "record_id": 7}.
// Values may be any scalar; comparison is by normalized text, so an int key
// matches the float64 the JSON decoder produced.
type Key map[string]any

// Status of a pending job.
type Status string

const (
	StatusSubmitted       Status = "submitted"
	StatusResolvedSuccess Status = "resolved_success"
	StatusResolvedFailure Status = "resolved_failure"
	StatusAbandoned       Status = "abandoned"
)

// FailureKind classifies a failure outcome.
type FailureKind string

const (
	FailureServer    FailureKind = "server"    // event carried a failure status
	FailureMalformed FailureKind = "malformed" // result body unusable after double-decode
	FailureTimeout   FailureKind = "timeout"   // no matching event before the deadline
)

const genericFailure = "execution failed"

// Result is the terminal outcome of a job.
type Result struct {
	Status Status
	Kind   FailureKind
	Err    string
	Value  any          // decoded result body on success
	Event  events.Event // the matching event, zero on timeout
}

type job struct {
	id          string
	slot        string
	key         map[string]string
	submittedAt time.Time

	mu     sync.Mutex
	status Status
	result Result
	done   chan struct{}
	timer  *time.Timer
}

// Handle is the consumer's view of a submitted job.
type Handle struct{ j *job }

// Done is closed when the job leaves the submitted state.
func (h *Handle) Done() <-chan struct{} { return h.j.done }

func (h *Handle) Status() Status {
	h.j.mu.Lock()
	defer h.j.mu.Unlock()

	return h.j.status
}

// Result returns the terminal outcome. Zero value while still submitted.
func (h *Handle) Result() Result {
	h.j.mu.Lock()
	defer h.j.mu.Unlock()

	return h.j.result
}

func (h *Handle) ID() string             { return h.j.id }
func (h *Handle) SubmittedAt() time.Time { return h.j.submittedAt }

// Resolver owns the pending-job registry. One live job per slot: submitting
// into an occupied slot abandons the previous job, so a stale result from a
// superseded request can never overwrite the newer request's state.
type Resolver struct {
	mu      sync.Mutex
	slots   map[string]*job
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the deadline after which an unmatched job resolves to a
// timeout failure. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger.With("module", "correlate") }
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		slots:  make(map[string]*job),
		logger: slog.Default().With("module", "correlate"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Bind subscribes the resolver to the store's change feed and returns the
// cancel function.
func (r *Resolver) Bind(s *store.Store) func() {
	return s.Subscribe(r.Scan)
}

// Submit registers a pending job for the given consumer slot. A job already
// live in the slot is marked abandoned; its late resolution becomes a no-op.
func (r *Resolver) Submit(slot string, key Key) *Handle {
	normalized := make(map[string]string, len(key))

	for field, value := range key {
		text, ok := events.NormalizeScalar(value)
		if !ok {
			continue
		}

		normalized[field] = text
	}

	j := &job{
		id:          uuid.New().String(),
		slot:        slot,
		key:         normalized,
		submittedAt: time.Now().UTC(),
		status:      StatusSubmitted,
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.slots[slot]
	r.slots[slot] = j
	r.mu.Unlock()

	if prev != nil {
		prev.abandon()
		r.logger.Debug("superseded pending job", "slot", slot, "job_id", prev.id)
	}

	if r.timeout > 0 {
		j.timer = time.AfterFunc(r.timeout, func() {
			if j.resolve(Result{
				Status: StatusResolvedFailure,
				Kind:   FailureTimeout,
				Err:    "no result received before deadline",
			}) {
				r.logger.Warn("job timed out", "slot", slot, "job_id", j.id)
			}
		})
	}

	return &Handle{j: j}
}

// Abandon cancels the live job in the slot, if any.
func (r *Resolver) Abandon(slot string) {
	r.mu.Lock()
	j := r.slots[slot]
	delete(r.slots, slot)
	r.mu.Unlock()

	if j != nil {
		j.abandon()
	}
}

// Slot returns the handle of the slot's current job, live or resolved.
func (r *Resolver) Slot(slot string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.slots[slot]
	if !ok {
		return nil, false
	}

	return &Handle{j: j}, true
}

// Scan tests a batch of newly arrived events against every pending job.
// The batch is walked newest-first so the most recent result for a key wins
// over a stale duplicate within the same delivery.
func (r *Resolver) Scan(batch []events.Event) {
	r.mu.Lock()
	pending := make([]*job, 0, len(r.slots))

	for _, j := range r.slots {
		pending = append(pending, j)
	}

	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	for _, j := range pending {
		j.mu.Lock()
		live := j.status == StatusSubmitted
		j.mu.Unlock()

		if !live {
			continue
		}

		for i := len(batch) - 1; i >= 0; i-- {
			evt := batch[i]
			if !matches(j.key, evt.Data) {
				continue
			}

			if j.resolve(outcome(evt)) {
				r.logger.Debug("job resolved",
					"slot", j.slot,
					"job_id", j.id,
					"event_type", evt.Type,
				)
			}

			break
		}
	}
}

// matches reports whether every key field is present and equal in the
// payload, under scalar normalization.
func matches(key map[string]string, data events.Payload) bool {
	if len(key) == 0 {
		return false
	}

	for field, want := range key {
		got, ok := data.Field(field)
		if !ok || got != want {
			return false
		}
	}

	return true
}

// outcome derives the job result from the matching event.
func outcome(evt events.Event) Result {
	code, _ := evt.Data.StatusCode()
	if code == events.StatusFailed {
		errText := evt.Data.ErrorText()
		if errText == "" {
			errText = genericFailure
		}

		return Result{
			Status: StatusResolvedFailure,
			Kind:   FailureServer,
			Err:    errText,
			Event:  evt,
		}
	}

	value, err := ExtractResult(evt.Data)
	if err != nil {
		return Result{
			Status: StatusResolvedFailure,
			Kind:   FailureMalformed,
			Err:    "invalid result payload",
			Event:  evt,
		}
	}

	return Result{
		Status: StatusResolvedSuccess,
		Value:  value,
		Event:  evt,
	}
}

// resolve transitions the job out of submitted. First resolution wins;
// returns false if the job was already terminal.
func (j *job) resolve(res Result) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusSubmitted {
		return false
	}

	j.status = res.Status
	j.result = res

	if j.timer != nil {
		j.timer.Stop()
	}

	close(j.done)

	return true
}

func (j *job) abandon() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusSubmitted {
		return
	}

	j.status = StatusAbandoned
	j.result = Result{Status: StatusAbandoned}

	if j.timer != nil {
		j.timer.Stop()
	}

	close(j.done)
}
