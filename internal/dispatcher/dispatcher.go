// Package dispatcher runs one sort cycle: claim the next job, turn its item
// class into a robot program and send it. A job whose program never reached
// the robot is completed as Failed on the spot; a delivered job stays
// Running until someone reports it done.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sorter/internal/model"
	"sorter/internal/notify"
	"sorter/internal/program"
	"sorter/internal/queue"

	"github.com/google/uuid"
)

// JobQueue is the part of the queue a cycle needs.
type JobQueue interface {
	ClaimNext(ctx context.Context, userID *int64) (*queue.Job, error)
	Complete(ctx context.Context, c queue.Completion) (model.Status, error)
}

// Sender delivers a program to the robot.
type Sender interface {
	Send(ctx context.Context, program string, timeout time.Duration) error
}

// ProgramLoader returns program text by id.
type ProgramLoader interface {
	Load(id string) (string, error)
}

// Publisher receives job events. Failures are logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, ev notify.JobEvent) error
}

// Cycle describes a job that was claimed and delivered.
type Cycle struct {
	ID      string     `json:"cycle_id"`
	Job     *queue.Job `json:"job"`
	Program string     `json:"program"`
}

type Dispatcher struct {
	queue    JobQueue
	sender   Sender
	programs ProgramLoader
	events   Publisher
	timeout  time.Duration
	log      *slog.Logger
}

type Option func(*Dispatcher)

// WithPublisher fans job events out to p.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithLogger sets the logger; slog.Default otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New builds a Dispatcher. timeout is handed to every Send; zero lets the
// sender use its own default.
func New(q JobQueue, s Sender, programs ProgramLoader, timeout time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		sender:   s,
		programs: programs,
		timeout:  timeout,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunCycle claims one job and dispatches it. It returns nil, nil when the
// queue is empty.
//
// If the program cannot be resolved, loaded or sent, the job is completed
// as Failed with the cause as detail and the cause is returned; the
// completion error, if any, is joined to it.
func (d *Dispatcher) RunCycle(ctx context.Context, userID *int64) (*Cycle, error) {
	job, err := d.queue.ClaimNext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	cycle := &Cycle{ID: uuid.NewString(), Job: job}
	log := d.log.With(
		slog.String("cycle_id", cycle.ID),
		slog.Int64("order_id", job.OrderID),
		slog.Int64("line_item_id", job.LineItemID),
		slog.String("item_class", job.ItemClass),
	)
	log.Info("job claimed", slog.String("target_bin", job.TargetBin), slog.Int("quantity", job.Quantity), slog.Int("priority", job.Priority))
	d.publish(ctx, log, notify.ActionClaimed, job, userID, "")

	name, text, err := d.load(job.ItemClass)
	if err != nil {
		return cycle, d.fail(ctx, log, job, userID, err)
	}
	cycle.Program = name

	start := time.Now()
	err = d.sender.Send(ctx, program.Prepare(name, text), d.timeout)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("robot send failed", slog.String("program", name), slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
		return cycle, d.fail(ctx, log, job, userID, fmt.Errorf("robot send %s: %w", name, err))
	}

	log.Info("robot send ok", slog.String("program", name), slog.Duration("elapsed", elapsed))
	d.publish(ctx, log, notify.ActionDispatched, job, userID, name)
	return cycle, nil
}

func (d *Dispatcher) load(itemClass string) (name, text string, err error) {
	name, err = program.Resolve(itemClass)
	if err != nil {
		return "", "", err
	}
	text, err = d.programs.Load(name)
	if err != nil {
		return name, "", err
	}
	return name, text, nil
}

// fail completes job as Failed. The completion runs even if ctx is already
// cancelled so the job is not left Running.
func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, job *queue.Job, userID *int64, cause error) error {
	cctx := context.WithoutCancel(ctx)
	_, err := d.queue.Complete(cctx, queue.Completion{
		OrderID:    job.OrderID,
		LineItemID: job.LineItemID,
		Outcome:    model.StatusFailed,
		UserID:     userID,
		Detail:     fmt.Sprintf("ordre=%d, linje=%d: %v", job.OrderID, job.LineItemID, cause),
	})
	if err != nil {
		log.Error("mark job failed", slog.String("error", err.Error()), slog.String("cause", cause.Error()))
		return errors.Join(cause, fmt.Errorf("mark job failed: %w", err))
	}
	log.Warn("job failed", slog.String("cause", cause.Error()))
	d.publish(cctx, log, notify.ActionFailed, job, userID, cause.Error())
	return cause
}

func (d *Dispatcher) publish(ctx context.Context, log *slog.Logger, action string, job *queue.Job, userID *int64, detail string) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(ctx, notify.NewJobEvent(action, job.OrderID, job.LineItemID, userID, detail)); err != nil {
		log.Warn("publish job event", slog.String("action", action), slog.String("error", err.Error()))
	}
}
