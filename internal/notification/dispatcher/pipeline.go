package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/models"
)

var (
	ErrPipelineFull   = errors.New("notification pipeline is full")
	ErrPipelineClosed = errors.New("notification pipeline is closed")
)

// PipelineConfig sizes the asynchronous pipeline.
type PipelineConfig struct {
	Shards          int
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Pipeline runs events in the background. Events are prepared in submission
// order; deliveries for one recipient always land on the same shard and so
// keep their order.
type Pipeline struct {
	dispatcher *Dispatcher
	config     PipelineConfig
	logger     logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	shards []chan delivery

	intakeDone chan struct{}
	shardsWG   sync.WaitGroup
}

type delivery struct {
	plan      *Plan
	recipient string
	job       *job
}

// job tracks one event's outstanding deliveries.
type job struct {
	plan    *Plan
	start   time.Time
	pending int32
}

// NewPipeline starts the intake and shard goroutines.
func NewPipeline(d *Dispatcher, cfg PipelineConfig) *Pipeline {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}

	p := &Pipeline{
		dispatcher: d,
		config:     cfg,
		logger:     d.logger.WithFields(map[string]interface{}{"component": "pipeline"}),
		queue:      make(chan Event, cfg.QueueSize),
		shards:     make([]chan delivery, cfg.Shards),
		intakeDone: make(chan struct{}),
	}

	for i := range p.shards {
		p.shards[i] = make(chan delivery, cfg.QueueSize)
		p.shardsWG.Add(1)
		go p.runShard(i, p.shards[i])
	}
	go p.runIntake()

	p.logger.Info("pipeline started", map[string]interface{}{
		"shards":    cfg.Shards,
		"queueSize": cfg.QueueSize,
	})
	return p
}

// Submit validates ev and enqueues it without blocking.
func (p *Pipeline) Submit(ev Event) error {
	if ev == nil {
		return apperrors.NewValidationError("event is required")
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		p.logger.Warn("pipeline queue full, event dropped", map[string]interface{}{
			"eventKind": string(ev.Kind()),
		})
		return ErrPipelineFull
	}
}

func (p *Pipeline) OnReportCreated(reportID, title, municipality string, wardNumber *int, actorID, actorName string) error {
	return p.Submit(ReportCreated{
		ReportID:     reportID,
		Title:        title,
		Municipality: municipality,
		WardNumber:   wardNumber,
		ActorID:      actorID,
		ActorName:    actorName,
	})
}

func (p *Pipeline) OnSuggestionCreated(suggestionID, title, municipality string, wardNumber *int, actorID, actorName string) error {
	return p.Submit(SuggestionCreated{
		SuggestionID: suggestionID,
		Title:        title,
		Municipality: municipality,
		WardNumber:   wardNumber,
		ActorID:      actorID,
		ActorName:    actorName,
	})
}

func (p *Pipeline) OnCommentAdded(commentID string, parentKind models.EntityKind, parentID, parentOwnerID, parentTitle, actorID, actorName string) error {
	return p.Submit(CommentAdded{
		CommentID:     commentID,
		ParentKind:    parentKind,
		ParentID:      parentID,
		ParentOwnerID: parentOwnerID,
		ParentTitle:   parentTitle,
		ActorID:       actorID,
		ActorName:     actorName,
	})
}

func (p *Pipeline) OnCommentDeleted(commentID string, parentKind models.EntityKind, parentID, parentTitle, authorID, actorID, actorName string) error {
	return p.Submit(CommentDeleted{
		CommentID:   commentID,
		ParentKind:  parentKind,
		ParentID:    parentID,
		ParentTitle: parentTitle,
		AuthorID:    authorID,
		ActorID:     actorID,
		ActorName:   actorName,
	})
}

func (p *Pipeline) OnUpvoteAdded(entityKind models.EntityKind, entityID, ownerID, title, actorID, actorName string) error {
	return p.Submit(UpvoteAdded{
		EntityKind: entityKind,
		EntityID:   entityID,
		OwnerID:    ownerID,
		Title:      title,
		ActorID:    actorID,
		ActorName:  actorName,
	})
}

// OnStatusChanged accepts an empty actorID for system-initiated changes.
func (p *Pipeline) OnStatusChanged(entityType models.EntityKind, id, newStatus, ownerID, title, actorID string) error {
	return p.Submit(StatusChanged{
		EntityKind: entityType,
		EntityID:   id,
		NewStatus:  newStatus,
		OwnerID:    ownerID,
		Title:      title,
		ActorID:    actorID,
	})
}

// Close stops intake and waits for queued work to drain or ctx to end.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-p.intakeDone
		for _, ch := range p.shards {
			close(ch)
		}
		p.shardsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline stopped", nil)
		return nil
	case <-ctx.Done():
		p.logger.Warn("pipeline stop timed out", map[string]interface{}{"error": ctx.Err().Error()})
		return ctx.Err()
	}
}

func (p *Pipeline) runIntake() {
	defer close(p.intakeDone)
	for ev := range p.queue {
		p.intake(ev)
	}
}

func (p *Pipeline) intake(ev Event) {
	defer p.recover("intake", ev.Kind())

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	plan, err := p.dispatcher.Prepare(ctx, ev)
	if err != nil {
		p.logger.Error("event rejected", map[string]interface{}{
			"eventKind": string(ev.Kind()),
			"actorId":   ev.Actor(),
			"error":     err.Error(),
		})
		p.dispatcher.obs.RecordEventDispatched(ctx, string(ev.Kind()), "rejected")
		return
	}

	j := &job{plan: plan, start: start, pending: int32(len(plan.Recipients))}
	if j.pending == 0 {
		p.finish(j)
		return
	}
	for _, recipient := range plan.Recipients {
		p.shards[p.shardFor(recipient)] <- delivery{plan: plan, recipient: recipient, job: j}
	}
}

func (p *Pipeline) runShard(index int, ch <-chan delivery) {
	defer p.shardsWG.Done()
	for d := range ch {
		p.deliver(d)
	}
	p.logger.Debug("shard stopped", map[string]interface{}{"shard": index})
}

func (p *Pipeline) deliver(d delivery) {
	defer func() {
		if atomic.AddInt32(&d.job.pending, -1) == 0 {
			p.finish(d.job)
		}
	}()
	defer p.recover("deliver", d.plan.Event.Kind())

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DeliveryTimeout)
	defer cancel()
	p.dispatcher.Deliver(ctx, d.plan, d.recipient)
}

// finish runs once per event, after its last delivery.
func (p *Pipeline) finish(j *job) {
	defer p.recover("broadcast", j.plan.Event.Kind())

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DeliveryTimeout)
	defer cancel()

	p.dispatcher.Broadcast(j.plan)
	p.dispatcher.recordDuration(ctx, j.plan.Event.Kind(), j.start)
	p.dispatcher.obs.RecordEventDispatched(ctx, string(j.plan.Event.Kind()), "ok")
}

func (p *Pipeline) shardFor(recipient string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipient))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) recover(stage string, kind Kind) {
	if r := recover(); r != nil {
		p.logger.Error("recovered from panic in notification pipeline", map[string]interface{}{
			"stage":     stage,
			"eventKind": string(kind),
			"panic":     fmt.Sprint(r),
			"stack":     string(debug.Stack()),
		})
	}
}
