// SPDX-License-Identifier: GPL-3.0-or-later
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"
	"github.com/CrawX/go-imap-phishguard/mail"

	"github.com/sirupsen/logrus"
)

const maxBackoffShift = 5

type Options struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
}

type job struct {
	messageId  int64
	enqueuedAt time.Time
	attempts   int
	bulk       bool
	batch      *batch
}

// batch tracks one redetect-all run until its last job is done.
type batch struct {
	remaining int
	users     map[int64]int
}

type Stats struct {
	Live      int    `json:"live"`
	Bulk      int    `json:"bulk"`
	InFlight  int    `json:"in_flight"`
	Retrying  int    `json:"retrying"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Retried   uint64 `json:"retried"`
}

// Orchestrator classifies messages on a fixed pool of workers. A message is
// queued or in flight at most once; live jobs are taken before bulk jobs.
type Orchestrator struct {
	l          *logrus.Logger
	store      domain.ClassificationStore
	classifier domain.Classifier
	publisher  domain.Publisher
	options    Options

	lock    sync.Mutex
	runCtx  context.Context
	stopped bool
	live    []*job
	bulk    []*job
	pending map[int64]bool
	stats   Stats

	wake chan struct{}
	wg   sync.WaitGroup
}

func NewOrchestrator(store domain.ClassificationStore, classifier domain.Classifier, publisher domain.Publisher, options Options) *Orchestrator {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = 1
	}
	return &Orchestrator{
		l:          log.Logger(log.LOG_ORCHESTRATOR),
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		options:    options,
		pending:    map[int64]bool{},
		wake:       make(chan struct{}, options.Workers),
	}
}

// Run starts the workers. They stop when ctx is done, Wait blocks until then.
func (o *Orchestrator) Run(ctx context.Context) {
	o.lock.Lock()
	o.runCtx = ctx
	o.lock.Unlock()

	for i := 0; i < o.options.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	o.l.WithField("workers", o.options.Workers).Info("Started classification workers")
}

func (o *Orchestrator) Wait() {
	o.lock.Lock()
	o.stopped = true
	o.lock.Unlock()
	o.wg.Wait()
}

// Enqueue schedules a live classification. It returns false if the message is
// already queued or in flight.
func (o *Orchestrator) Enqueue(messageId int64) bool {
	return o.enqueue(messageId, false, nil)
}

func (o *Orchestrator) enqueue(messageId int64, bulk bool, b *batch) bool {
	o.lock.Lock()
	if o.pending[messageId] {
		o.lock.Unlock()
		return false
	}
	o.pending[messageId] = true
	j := &job{messageId: messageId, enqueuedAt: time.Now(), bulk: bulk, batch: b}
	if b != nil {
		b.remaining++
	}
	o.push(j)
	o.lock.Unlock()

	o.signal()
	return true
}

// push appends to the queue of the job, the caller holds the lock.
func (o *Orchestrator) push(j *job) {
	if j.bulk {
		o.bulk = append(o.bulk, j)
		o.stats.Bulk++
	} else {
		o.live = append(o.live, j)
		o.stats.Live++
	}
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) next() *job {
	o.lock.Lock()
	defer o.lock.Unlock()

	var j *job
	switch {
	case len(o.live) > 0:
		j, o.live = o.live[0], o.live[1:]
		o.stats.Live--
	case len(o.bulk) > 0:
		j, o.bulk = o.bulk[0], o.bulk[1:]
		o.stats.Bulk--
	default:
		return nil
	}
	o.stats.InFlight++
	return j
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		j := o.next()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-o.wake:
			}
			continue
		}
		o.process(ctx, j)
	}
}

func (o *Orchestrator) process(ctx context.Context, j *job) {
	msg, err := o.store.Message(ctx, j.messageId)
	if errors.Is(err, domain.ErrNotFound) {
		o.l.WithField("message", j.messageId).Debug("Message vanished before classification")
		o.finish(j, 0, &o.stats.Skipped)
		return
	}
	if err != nil {
		o.retry(ctx, j, nil, err)
		return
	}
	if msg.Classification.Status != domain.StatusPending {
		o.l.WithFields(logrus.Fields{"message": msg.Id, "status": msg.Classification.Status}).Debug("Skipping message that is not pending")
		o.finish(j, msg.UserId, &o.stats.Skipped)
		return
	}

	start := time.Now()
	c, err := o.classifier.Classify(ctx, msg)
	if err != nil {
		o.retry(ctx, j, msg, err)
		return
	}
	err = o.store.UpdateClassification(ctx, msg.Id, c)
	if err != nil {
		o.retry(ctx, j, msg, fmt.Errorf("could not save classification: %w", err))
		return
	}

	o.l.WithFields(logrus.Fields{
		"message":  msg.Id,
		"subject":  mail.ShortSubject(msg.Subject),
		"level":    c.Level,
		"score":    c.Score,
		"duration": time.Since(start),
	}).Info("Classified message")

	o.publisher.Publish(msg.UserId, domain.Event{
		Kind:      domain.EventPhishingUpdate,
		MessageId: msg.Id,
		Level:     c.Level,
		Score:     c.Score,
		Status:    c.Status,
		Reason:    c.Reason,
	})
	o.finish(j, msg.UserId, &o.stats.Completed)
}

// retry requeues a failed job after a backoff while it stays deduplicated.
// After the last attempt the message is marked FAILED.
func (o *Orchestrator) retry(ctx context.Context, j *job, msg *domain.Message, cause error) {
	if ctx.Err() != nil {
		// shutting down, the message stays PENDING and is recovered on startup
		o.finish(j, 0, nil)
		return
	}

	j.attempts++
	fields := logrus.Fields{"message": j.messageId, "attempt": j.attempts, "error": cause}
	if j.attempts < o.options.MaxAttempts {
		backoff := o.options.RetryBackoff << min(j.attempts-1, maxBackoffShift)
		o.l.WithFields(fields).WithField("backoff", backoff).Warn("Classification failed, retrying")

		o.lock.Lock()
		o.stats.InFlight--
		o.stats.Retrying++
		o.stats.Retried++
		o.lock.Unlock()

		time.AfterFunc(backoff, func() {
			o.lock.Lock()
			o.stats.Retrying--
			o.push(j)
			o.lock.Unlock()
			o.signal()
		})
		return
	}

	reason := fmt.Sprintf("classification failed after %d attempts: %v", j.attempts, cause)
	o.l.WithFields(fields).Error("Giving up on message, marking it failed")
	err := o.store.MarkFailed(ctx, j.messageId, reason)
	if err != nil {
		o.l.WithFields(logrus.Fields{"message": j.messageId, "error": err}).Error("Could not mark message failed")
	}

	userId := int64(0)
	if msg != nil {
		userId = msg.UserId
		o.publisher.Publish(msg.UserId, domain.Event{
			Kind:      domain.EventPhishingUpdate,
			MessageId: msg.Id,
			Level:     msg.Classification.Level,
			Score:     msg.Classification.Score,
			Status:    domain.StatusFailed,
			Reason:    reason,
		})
	}
	o.finish(j, userId, &o.stats.Failed)
}

// finish releases the job from the dedup set and settles its batch.
func (o *Orchestrator) finish(j *job, userId int64, counter *uint64) {
	o.lock.Lock()
	delete(o.pending, j.messageId)
	o.stats.InFlight--
	if counter != nil {
		*counter++
	}
	completed := o.settle(j.batch, userId)
	o.lock.Unlock()

	if completed != nil {
		o.batchCompleted(completed)
	}
}

// settle counts one finished job against its batch and returns the batch if
// it is drained, the caller holds the lock.
func (o *Orchestrator) settle(b *batch, userId int64) *batch {
	if b == nil {
		return nil
	}
	if userId != 0 {
		b.users[userId]++
	}
	b.remaining--
	if b.remaining == 0 {
		return b
	}
	return nil
}

func (o *Orchestrator) batchCompleted(b *batch) {
	for userId, processed := range b.users {
		o.publisher.Publish(userId, domain.Event{Kind: domain.EventBatchCompleted, Processed: processed})
	}
	o.l.WithField("users", len(b.users)).Info("Redetection batch completed")
}

// Redetect resets a single message to PENDING and schedules it as a live job.
func (o *Orchestrator) Redetect(ctx context.Context, messageId int64) error {
	_, err := o.store.Message(ctx, messageId)
	if err != nil {
		return fmt.Errorf("could not load message %d: %w", messageId, err)
	}
	_, err = o.store.ResetClassification(ctx, domain.MessageFilter{AfterId: messageId - 1, MaxId: messageId})
	if err != nil {
		return fmt.Errorf("could not reset message %d: %w", messageId, err)
	}
	o.Enqueue(messageId)
	return nil
}

// RedetectAll resets every stored message to PENDING and schedules them as
// bulk jobs. Messages stored afterwards are not part of the batch. Each user
// gets a phishing_batch_completed event once the batch is drained.
//
// Once the reset is committed the batch is scheduled even if ctx is cancelled.
// Listing failures are retried, after MaxAttempts the remaining messages are
// listed again in the background until the workers stop.
func (o *Orchestrator) RedetectAll(ctx context.Context) (int, error) {
	ctx = context.WithoutCancel(ctx)
	maxId, err := o.store.ResetClassification(ctx, domain.MessageFilter{})
	if err != nil {
		return 0, fmt.Errorf("could not reset classifications: %w", err)
	}
	if maxId == 0 {
		return 0, nil
	}

	// the extra reference keeps the batch open until all jobs are queued
	b := &batch{remaining: 1, users: map[int64]int{}}
	filter := domain.MessageFilter{Status: domain.StatusPending, MaxId: maxId}
	enqueued, err := o.enqueueRetrying(ctx, filter, b, o.options.MaxAttempts)
	if err != nil {
		if o.resumeInBackground(filter, b) {
			return enqueued, fmt.Errorf("scheduled %d messages, listing the rest in the background: %w", enqueued, err)
		}
		o.release(b)
		return enqueued, err
	}
	o.release(b)

	o.l.WithFields(logrus.Fields{"enqueued": enqueued, "maxid": maxId}).Info("Scheduled redetection of all messages")
	return enqueued, nil
}

// enqueueRetrying lists and enqueues matching messages until a listing
// succeeds. Already queued messages are deduplicated, so a listing that failed
// halfway is simply repeated. attempts <= 0 retries until ctx is done.
func (o *Orchestrator) enqueueRetrying(ctx context.Context, filter domain.MessageFilter, b *batch, attempts int) (int, error) {
	total := 0
	for attempt := 1; ; attempt++ {
		enqueued, err := o.enqueueAll(ctx, filter, b)
		total += enqueued
		if err == nil {
			return total, nil
		}
		if attempts > 0 && attempt >= attempts {
			return total, err
		}

		backoff := o.options.RetryBackoff << min(attempt-1, maxBackoffShift)
		o.l.WithFields(logrus.Fields{"attempt": attempt, "backoff": backoff, "error": err}).Warn("Could not list messages for redetection, retrying")
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("%w: %w", err, ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// resumeInBackground keeps listing the batch on the run context. It returns
// false if the workers are not running.
func (o *Orchestrator) resumeInBackground(filter domain.MessageFilter, b *batch) bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	runCtx := o.runCtx
	if runCtx == nil || runCtx.Err() != nil || o.stopped {
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		enqueued, err := o.enqueueRetrying(runCtx, filter, b, 0)
		if err != nil {
			o.l.WithFields(logrus.Fields{"enqueued": enqueued, "error": err}).Error("Gave up listing messages for redetection, they are recovered on startup")
		} else {
			o.l.WithField("enqueued", enqueued).Info("Scheduled remaining messages for redetection")
		}
		o.release(b)
	}()
	return true
}

// release drops the reference RedetectAll holds on its batch.
func (o *Orchestrator) release(b *batch) {
	o.lock.Lock()
	completed := o.settle(b, 0)
	o.lock.Unlock()
	if completed != nil {
		o.batchCompleted(completed)
	}
}

// Recover schedules every PENDING message, they were interrupted by a
// shutdown or never enqueued.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	enqueued, err := o.enqueueAll(ctx, domain.MessageFilter{Status: domain.StatusPending}, nil)
	if err != nil {
		return enqueued, err
	}
	o.l.WithField("enqueued", enqueued).Info("Recovered pending messages")
	return enqueued, nil
}

func (o *Orchestrator) enqueueAll(ctx context.Context, filter domain.MessageFilter, b *batch) (int, error) {
	enqueued := 0
	for msg, err := range o.store.ListMessages(ctx, filter) {
		if err != nil {
			return enqueued, fmt.Errorf("could not list pending messages: %w", err)
		}
		if o.enqueue(msg.Id, true, b) {
			enqueued++
		}
	}
	return enqueued, nil
}

func (o *Orchestrator) Stats() Stats {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.stats
}
