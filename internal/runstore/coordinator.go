package runstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"courtroom/internal/courtroom"
	"courtroom/internal/rubric"
	"courtroom/internal/state"
	"courtroom/internal/verdict"
)

// ErrBusy reports that the admission bound is exhausted.
var ErrBusy = errors.New("runstore: too many concurrent runs")

// Archiver persists run artifacts outside the registry. Nil disables
// archiving.
type Archiver interface {
	Put(ctx context.Context, runID, name string, content []byte) error
}

// Coordinator admits and executes audit runs. Admission is bounded: past the
// limit, Submit fails fast and Run blocks on the semaphore.
type Coordinator struct {
	pipeline *courtroom.Pipeline
	store    Store
	archive  Archiver
	sem      *semaphore.Weighted

	mu   sync.Mutex
	subs map[string][]chan Record
}

// NewCoordinator builds a coordinator admitting at most maxConcurrent runs.
func NewCoordinator(p *courtroom.Pipeline, store Store, archive Archiver, maxConcurrent int) *Coordinator {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &Coordinator{
		pipeline: p,
		store:    store,
		archive:  archive,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		subs:     make(map[string][]chan Record),
	}
}

// validate rejects unrunnable submissions before anything is scheduled or
// recorded.
func validate(subject state.Subject, cat *rubric.Catalog) error {
	if subject.Empty() {
		return fmt.Errorf("runstore: subject needs a repository or a document")
	}
	if cat == nil || len(cat.Criteria) == 0 {
		return fmt.Errorf("runstore: empty criteria catalog")
	}
	return nil
}

// Run executes an audit synchronously and returns the terminal record. It
// waits for an admission slot.
func (c *Coordinator) Run(ctx context.Context, subject state.Subject, cat *rubric.Catalog) (Record, error) {
	if err := validate(subject, cat); err != nil {
		return Record{}, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Record{}, err
	}
	defer c.sem.Release(1)

	rec := c.admit(ctx, subject)
	return c.execute(ctx, rec, cat), nil
}

// Submit starts an audit asynchronously and returns its pending record. It
// fails fast with ErrBusy when no admission slot is free.
func (c *Coordinator) Submit(ctx context.Context, subject state.Subject, cat *rubric.Catalog) (Record, error) {
	if err := validate(subject, cat); err != nil {
		return Record{}, err
	}
	if !c.sem.TryAcquire(1) {
		return Record{}, ErrBusy
	}
	rec := c.admit(ctx, subject)
	go func() {
		defer c.sem.Release(1)
		// The run outlives the submitting request.
		c.execute(context.Background(), rec, cat)
	}()
	return rec, nil
}

// Get returns the record for id.
func (c *Coordinator) Get(ctx context.Context, id string) (Record, error) {
	return c.store.Get(ctx, id)
}

// List returns the most recent records.
func (c *Coordinator) List(ctx context.Context, limit int) ([]Record, error) {
	return c.store.List(ctx, limit)
}

// Subscribe streams record updates for one run until cancel is called. The
// current record is delivered first; a terminal record closes the channel.
func (c *Coordinator) Subscribe(ctx context.Context, id string) (<-chan Record, func(), error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Record, 4)
	ch <- rec
	if rec.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	c.mu.Lock()
	c.subs[id] = append(c.subs[id], ch)
	c.mu.Unlock()
	cancel := func() { c.unsubscribe(id, ch) }
	return ch, cancel, nil
}

func (c *Coordinator) unsubscribe(id string, ch chan Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chans := c.subs[id]
	for i, sub := range chans {
		if sub == ch {
			c.subs[id] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) publish(rec Record) {
	c.mu.Lock()
	chans := c.subs[rec.ID]
	if rec.Status.Terminal() {
		delete(c.subs, rec.ID)
	}
	c.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- rec:
		default:
			// Slow subscriber; it will catch up via Get.
		}
		if rec.Status.Terminal() {
			close(ch)
		}
	}
}

func (c *Coordinator) admit(ctx context.Context, subject state.Subject) Record {
	rec := Record{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Subject:     subject,
		SubmittedAt: time.Now().UTC(),
	}
	c.save(ctx, rec)
	return rec
}

func (c *Coordinator) execute(ctx context.Context, rec Record, cat *rubric.Catalog) Record {
	rec.Status = StatusRunning
	c.save(ctx, rec)

	final, err := c.pipeline.Run(ctx, rec.Subject, cat)
	rec.FinishedAt = time.Now().UTC()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		log.Printf("runstore: run %s failed: %v", rec.ID, err)
		c.save(ctx, rec)
		return rec
	}

	rec.Status = StatusComplete
	rec.Report = final.Report
	if rec.Report == nil {
		// Early-terminated run: nothing reached the chief justice.
		rec.Report = verdict.BuildReport(final)
	}
	c.save(ctx, rec)
	c.archiveReport(ctx, rec)
	return rec
}

func (c *Coordinator) save(ctx context.Context, rec Record) {
	if err := c.store.Put(ctx, rec); err != nil {
		log.Printf("runstore: persist run %s: %v", rec.ID, err)
	}
	c.publish(rec)
}

func (c *Coordinator) archiveReport(ctx context.Context, rec Record) {
	if c.archive == nil || rec.Report == nil {
		return
	}
	md := verdict.RenderMarkdown(rec.Report)
	if err := c.archive.Put(ctx, rec.ID, "report.md", []byte(md)); err != nil {
		log.Printf("runstore: archive run %s: %v", rec.ID, err)
	}
}
