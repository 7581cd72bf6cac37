package fileops

import (
	"context"
	"fmt"
	"time"

	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Outcome labels passed to Metrics.ObserveOperation.
const (
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
	OutcomeSuccess = "success"
)

// Metrics receives operation observations.
type Metrics interface {
	ObserveOperation(op OperationType, outcome string, elapsed time.Duration)
	AddBytes(route string, n int64)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for progress timing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithEnricher sets how failures get their kind and suggestions.
func WithEnricher(enricher fserrors.Enricher) Option {
	return func(o *Orchestrator) {
		o.enricher = enricher
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// Orchestrator executes operations through the protocol clients of a
// registry. It holds no per-operation state and is safe for concurrent use.
type Orchestrator struct {
	clients  *filesystem.Clients
	enricher fserrors.Enricher
	logger   logrus.FieldLogger
	metrics  Metrics
	now      func() time.Time
}

// New creates an Orchestrator over clients.
func New(clients *filesystem.Clients, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clients:  clients,
		enricher: fserrors.NewEnricher(),
		logger:   logrus.StandardLogger(),
		metrics:  noopMetrics{},
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Execute runs op without progress reporting.
func (o *Orchestrator) Execute(ctx context.Context, op Operation) Result {
	return o.ExecuteWithProgress(ctx, op, Progress{})
}

// ExecuteWithProgress runs op. Files are handled one after another in the
// order given; a failing file does not stop the batch. The returned Result
// is never nil.
func (o *Orchestrator) ExecuteWithProgress(ctx context.Context, op Operation, progress Progress) Result {
	track := newTracker(progress, o.now)
	defer track.complete()

	if op == nil {
		return o.failure(ErrNoSources, "")
	}

	id := uuid.NewString()
	start := o.now()
	logger := o.logger.WithFields(logrus.Fields{"op": op.Type(), "op_id": id})

	var result Result

	switch op := op.(type) {
	case Copy:
		result = o.transferAll(ctx, id, TypeCopy, op.Sources, op.Destination, op.Overwrite, track, logger)
	case Move:
		result = o.transferAll(ctx, id, TypeMove, op.Sources, op.Destination, op.Overwrite, track, logger)
	case Rename:
		result = o.rename(ctx, id, op, track, logger)
	case Delete:
		result = o.delete(ctx, id, op, track, logger)
	default:
		result = o.failure(fmt.Errorf("%w: %T", fserrors.ErrUnsupported, op), "")
	}

	outcome := outcomeOf(result)
	o.metrics.ObserveOperation(op.Type(), outcome, o.now().Sub(start))
	logger.WithField("outcome", outcome).Info("operation finished")

	return result
}

// failure converts err into a Failure with its kind and suggestions.
func (o *Orchestrator) failure(err error, affectedPath string) Failure {
	actionable := o.enricher.Enrich(err, affectedPath)

	return Failure{
		Message:     err.Error(),
		Kind:        actionable.Kind(),
		Suggestions: actionable.Suggestions(),
		Err:         err,
	}
}

// endpoint is a reference with the client that serves it.
type endpoint struct {
	ref    filesystem.FileRef
	client filesystem.Client
	path   string
	key    string
}

func (o *Orchestrator) open(ref filesystem.FileRef) (endpoint, error) {
	if ref == nil {
		return endpoint{}, fmt.Errorf("%w: no path given", fserrors.ErrUnresolvable)
	}

	client, p, err := o.clients.ForRef(ref)
	if err != nil {
		return endpoint{}, fmt.Errorf("%s: %w", ref, err)
	}

	key, err := client.ResourceKey(p)
	if err != nil {
		return endpoint{}, err
	}

	return endpoint{ref: ref, client: client, path: p, key: key}, nil
}

// batch collects the per-file outcomes of one operation.
type batch struct {
	total     int
	resulting []filesystem.FileRef
	failed    []error
	firstPath string
}

func newBatch(total int) *batch {
	return &batch{total: total}
}

func (b *batch) succeed(ref filesystem.FileRef) {
	b.resulting = append(b.resulting, ref)
}

func (b *batch) fail(ref filesystem.FileRef, err error) {
	if len(b.failed) == 0 && ref != nil {
		b.firstPath = ref.String()
	}

	b.failed = append(b.failed, err)
}

// result applies the aggregation rule: all succeeded is a Success, none is
// a Failure carrying the first error, anything between is a PartialSuccess.
func (o *Orchestrator) result(b *batch, op OperationType, undo *UndoOperation) Result {
	succeeded := len(b.resulting)

	switch {
	case len(b.failed) == 0:
		return Success{Count: succeeded, Operation: op, ResultingPaths: b.resulting, Undo: undo}
	case succeeded == 0:
		return o.failure(b.failed[0], b.firstPath)
	default:
		messages := make([]string, 0, len(b.failed))
		for _, err := range b.failed {
			messages = append(messages, err.Error())
		}

		return PartialSuccess{
			Succeeded:      succeeded,
			Failed:         len(b.failed),
			ErrorMessages:  messages,
			ResultingPaths: b.resulting,
			Undo:           undo,
		}
	}
}

func outcomeOf(result Result) string {
	switch result.(type) {
	case Success:
		return OutcomeSuccess
	case PartialSuccess:
		return OutcomePartial
	default:
		return OutcomeFailure
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(OperationType, string, time.Duration) {}
func (noopMetrics) AddBytes(string, int64)                               {}
