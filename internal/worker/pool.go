package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lectern-backend/internal/lecture"
	"lectern-backend/internal/models"
)

const (
	QueueGeneration  = "queue:lecture-generation"
	QueueTranslation = "queue:lecture-translation"

	lockTTL     = 10 * time.Minute
	popTimeout  = 5 * time.Second
	jobDeadline = 15 * time.Minute
)

// Generator is the part of the assembler the pool drives.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest, publish lecture.Publisher) (models.LectureSnapshot, error)
	Translate(ctx context.Context, req models.GenerateRequest, w models.Workspace, language string, publish func(models.Workspace)) (models.Workspace, []string, error)
}

type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	SaveSnapshot(ctx context.Context, sessionID string, snap models.LectureSnapshot) error
	LoadWorkspace(ctx context.Context, sessionID string) (models.Workspace, *models.LectureSnapshot, error)
	SaveWorkspace(ctx context.Context, sessionID string, base models.LectureSnapshot, w models.Workspace) (models.LectureSnapshot, error)
}

type Notifier interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage) error
}

type Pool struct {
	redis       *redis.Client
	generator   Generator
	sessions    SessionStore
	notifier    Notifier
	log         *zap.Logger
	workerCount int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(
	redisClient *redis.Client,
	generator Generator,
	sessions SessionStore,
	notifier Notifier,
	logger *zap.Logger,
	workerCount int,
) *Pool {
	return &Pool{
		redis:       redisClient,
		generator:   generator,
		sessions:    sessions,
		notifier:    notifier,
		log:         logger,
		workerCount: workerCount,
	}
}

// Enqueue pushes job onto the queue for its type.
func Enqueue(ctx context.Context, rdb *redis.Client, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, queueName(job.Type), string(data)).Err()
}

// Queue is the producer side handed to HTTP handlers.
type Queue struct {
	redis *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{redis: rdb}
}

func (q *Queue) Enqueue(ctx context.Context, job models.Job) error {
	return Enqueue(ctx, q.redis, job)
}

func queueName(jobType string) string {
	switch jobType {
	case models.JobTypeGeneration:
		return QueueGeneration
	case models.JobTypeTranslation:
		return QueueTranslation
	default:
		return "queue:" + jobType
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	queues := []string{QueueGeneration, QueueTranslation}

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.worker(ctx, id, queues)
		}(i)
	}

	p.log.Info("worker pool started", zap.Int("workers", p.workerCount))
}

// Stop cancels in-flight polling and waits for running jobs to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int, queues []string) {
	log := p.log.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		result, err := p.redis.BLPop(ctx, popTimeout, queues...).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn("queue read failed", zap.Error(err))
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error("failed to parse job", zap.Error(err))
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobDeadline)
		p.Process(jobCtx, job)
		cancel()

		p.redis.Del(context.WithoutCancel(ctx), lockKey)
	}
}

// Process runs one job to completion. Failed jobs are reported to the
// session and not re-queued.
func (p *Pool) Process(ctx context.Context, job models.Job) {
	log := p.log.With(
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("session_id", job.SessionID),
		zap.String("generation_id", job.GenerationID),
	)
	log.Info("processing job")

	var err error
	switch job.Type {
	case models.JobTypeGeneration:
		err = p.processGeneration(ctx, job, log)
	case models.JobTypeTranslation:
		err = p.processTranslation(ctx, job, log)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if errors.Is(err, errStale) {
		log.Info("job superseded by a newer request")
		return
	}
	if err != nil {
		log.Error("job failed", zap.Error(err))
		return
	}
	log.Info("job completed")
}

var errStale = errors.New("stale job")

// current reports whether job still matches what the session wants.
func (p *Pool) current(ctx context.Context, job models.Job) (*models.Session, bool) {
	sess, err := p.sessions.Get(ctx, job.SessionID)
	if err != nil || sess.GenerationID != job.GenerationID {
		return sess, false
	}
	if job.Type == models.JobTypeTranslation && sess.Language != job.Language {
		return sess, false
	}
	return sess, true
}

func (p *Pool) processGeneration(ctx context.Context, job models.Job, log *zap.Logger) error {
	sess, ok := p.current(ctx, job)
	if !ok {
		return errStale
	}
	sess.Status = models.StatusProcessing
	sess.Error = ""
	if err := p.sessions.Update(ctx, sess); err != nil {
		return err
	}

	stale := false
	publish := func(snap models.LectureSnapshot) {
		if stale {
			return
		}
		if _, ok := p.current(ctx, job); !ok {
			stale = true
			return
		}
		snap.GenerationID = job.GenerationID
		if err := p.sessions.SaveSnapshot(ctx, job.SessionID, snap); err != nil {
			log.Warn("failed to save snapshot", zap.Error(err))
		}
		p.notify(ctx, job.SessionID, models.WSMessage{
			Type:    models.WSTypeSnapshot,
			Payload: models.SnapshotEvent{SessionID: job.SessionID, Snapshot: snap.ForBroadcast()},
		}, log)
	}

	final, genErr := p.generator.Generate(ctx, job.Request, publish)

	sess, ok = p.current(ctx, job)
	if !ok || stale {
		return errStale
	}

	if genErr != nil {
		p.fail(ctx, sess, job, lecture.UserMessage(genErr), log)
		return genErr
	}

	final.GenerationID = job.GenerationID
	saved, err := p.sessions.SaveWorkspace(ctx, job.SessionID, final, models.NewWorkspace(final.Package))
	if err != nil {
		p.fail(ctx, sess, job, lecture.UserMessage(err), log)
		return err
	}

	sess.Status = models.StatusCompleted
	sess.Language = models.SourceLanguage
	sess.Translating = false
	if err := p.sessions.Update(ctx, sess); err != nil {
		return err
	}

	p.notify(ctx, job.SessionID, models.WSMessage{
		Type:    models.WSTypeSnapshot,
		Payload: models.SnapshotEvent{SessionID: job.SessionID, Snapshot: saved.ForBroadcast()},
	}, log)
	p.notify(ctx, job.SessionID, models.WSMessage{
		Type: models.WSTypeCompleted,
		Payload: models.CompletedEvent{
			SessionID:    job.SessionID,
			GenerationID: job.GenerationID,
			JobType:      job.Type,
			Failures:     final.Failures,
		},
	}, log)
	return nil
}

func (p *Pool) processTranslation(ctx context.Context, job models.Job, log *zap.Logger) error {
	sess, ok := p.current(ctx, job)
	if !ok {
		return errStale
	}

	w, base, err := p.sessions.LoadWorkspace(ctx, job.SessionID)
	if err != nil {
		p.fail(ctx, sess, job, lecture.UserMessage(err), log)
		return err
	}

	partial := *base
	partial.Final = false
	partial.Failures = nil

	publish := func(next models.Workspace) {
		if _, ok := p.current(ctx, job); !ok {
			return
		}
		saved, err := p.sessions.SaveWorkspace(ctx, job.SessionID, partial, next)
		if err != nil {
			log.Warn("failed to save translated text", zap.Error(err))
			return
		}
		p.notify(ctx, job.SessionID, models.WSMessage{
			Type:    models.WSTypeSnapshot,
			Payload: models.SnapshotEvent{SessionID: job.SessionID, Snapshot: saved.ForBroadcast()},
		}, log)
	}

	out, failures, trErr := p.generator.Translate(ctx, sess.Request, w, job.Language, publish)

	sess, ok = p.current(ctx, job)
	if !ok {
		return errStale
	}

	final := *base
	final.Final = true
	final.Failures = failures
	saved, err := p.sessions.SaveWorkspace(ctx, job.SessionID, final, out)
	if err != nil {
		p.fail(ctx, sess, job, lecture.UserMessage(err), log)
		return err
	}

	sess.Translating = false
	sess.Language = out.Language
	if trErr != nil {
		sess.Error = fmt.Sprintf("Failed to translate to %s. Please try again.", job.Language)
	} else {
		sess.Error = ""
	}
	if err := p.sessions.Update(ctx, sess); err != nil {
		return err
	}

	p.notify(ctx, job.SessionID, models.WSMessage{
		Type:    models.WSTypeSnapshot,
		Payload: models.SnapshotEvent{SessionID: job.SessionID, Snapshot: saved.ForBroadcast()},
	}, log)

	if trErr != nil {
		p.notify(ctx, job.SessionID, models.WSMessage{
			Type: models.WSTypeError,
			Payload: models.ErrorEvent{
				SessionID:    job.SessionID,
				GenerationID: job.GenerationID,
				ErrorCode:    "TRANSLATION_FAILED",
				ErrorMessage: sess.Error,
			},
		}, log)
		return trErr
	}

	p.notify(ctx, job.SessionID, models.WSMessage{
		Type: models.WSTypeCompleted,
		Payload: models.CompletedEvent{
			SessionID:    job.SessionID,
			GenerationID: job.GenerationID,
			JobType:      job.Type,
			Failures:     failures,
		},
	}, log)
	return nil
}

func (p *Pool) fail(ctx context.Context, sess *models.Session, job models.Job, message string, log *zap.Logger) {
	sess.Error = message
	if job.Type == models.JobTypeGeneration {
		sess.Status = models.StatusFailed
	} else {
		sess.Translating = false
		sess.Language = models.SourceLanguage
	}
	if err := p.sessions.Update(ctx, sess); err != nil {
		log.Warn("failed to record job failure", zap.Error(err))
	}

	p.notify(ctx, job.SessionID, models.WSMessage{
		Type: models.WSTypeError,
		Payload: models.ErrorEvent{
			SessionID:    job.SessionID,
			GenerationID: job.GenerationID,
			ErrorCode:    "JOB_FAILED",
			ErrorMessage: message,
		},
	}, log)
}

func (p *Pool) notify(ctx context.Context, sessionID string, msg models.WSMessage, log *zap.Logger) {
	if err := p.notifier.Publish(ctx, sessionID, msg); err != nil {
		log.Warn("failed to publish update", zap.String("message_type", msg.Type), zap.Error(err))
	}
}
