package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lectern-backend/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoLecture       = errors.New("no lecture stored for session")
)

// SessionRepo keeps sessions and their lecture packages in redis. Every key
// expires after ttl; nothing outlives an idle session.
type SessionRepo struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

func NewSessionRepo(client *redis.Client, ttl time.Duration) *SessionRepo {
	return &SessionRepo{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func metaKey(id string) string     { return fmt.Sprintf("session:%s:meta", id) }
func lectureKey(id string) string  { return fmt.Sprintf("session:%s:lecture", id) }
func originalKey(id string) string { return fmt.Sprintf("session:%s:original", id) }

func (r *SessionRepo) Create(ctx context.Context) (*models.Session, error) {
	now := r.now()
	s := &models.Session{
		ID:        r.newID(),
		Status:    models.StatusPending,
		Language:  models.SourceLanguage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.setJSON(ctx, metaKey(s.ID), s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	s := &models.Session{}
	if err := r.getJSON(ctx, metaKey(id), s); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) Update(ctx context.Context, s *models.Session) error {
	s.UpdatedAt = r.now()
	return r.setJSON(ctx, metaKey(s.ID), s)
}

// SaveSnapshot stores the displayed lecture, audio included.
func (r *SessionRepo) SaveSnapshot(ctx context.Context, sessionID string, snap models.LectureSnapshot) error {
	return r.setJSON(ctx, lectureKey(sessionID), snap)
}

func (r *SessionRepo) GetSnapshot(ctx context.Context, sessionID string) (*models.LectureSnapshot, error) {
	snap := &models.LectureSnapshot{}
	if err := r.getJSON(ctx, lectureKey(sessionID), snap); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoLecture
		}
		return nil, err
	}
	return snap, nil
}

// SaveOriginal stores the source-language package.
func (r *SessionRepo) SaveOriginal(ctx context.Context, sessionID string, pkg models.LecturePackage) error {
	return r.setJSON(ctx, originalKey(sessionID), pkg)
}

func (r *SessionRepo) GetOriginal(ctx context.Context, sessionID string) (*models.LecturePackage, error) {
	pkg := &models.LecturePackage{}
	if err := r.getJSON(ctx, originalKey(sessionID), pkg); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoLecture
		}
		return nil, err
	}
	return pkg, nil
}

// LoadWorkspace returns the stored lecture as a workspace together with the
// displayed snapshot it came from.
func (r *SessionRepo) LoadWorkspace(ctx context.Context, sessionID string) (models.Workspace, *models.LectureSnapshot, error) {
	snap, err := r.GetSnapshot(ctx, sessionID)
	if err != nil {
		return models.Workspace{}, nil, err
	}

	original, err := r.GetOriginal(ctx, sessionID)
	if errors.Is(err, ErrNoLecture) {
		original = &snap.Package
	} else if err != nil {
		return models.Workspace{}, nil, err
	}

	language := snap.Language
	if language == "" {
		language = models.SourceLanguage
	}
	return models.Workspace{Language: language, Original: *original, Display: snap.Package}, snap, nil
}

// SaveWorkspace writes both packages in one MULTI/EXEC so the original
// and the displayed lecture never diverge. base supplies the generation
// fields of the stored snapshot.
func (r *SessionRepo) SaveWorkspace(ctx context.Context, sessionID string, base models.LectureSnapshot, w models.Workspace) (models.LectureSnapshot, error) {
	snap := base
	snap.Language = w.Language
	snap.Package = w.Display
	snap.AudioReady = w.Display.HasAudio()

	original, err := json.Marshal(w.Original)
	if err != nil {
		return snap, err
	}
	display, err := json.Marshal(snap)
	if err != nil {
		return snap, err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, originalKey(sessionID), string(original), r.ttl)
		p.Set(ctx, lectureKey(sessionID), string(display), r.ttl)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("save workspace: %w", err)
	}
	return snap, nil
}

func (r *SessionRepo) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, string(data), r.ttl).Err()
}

func (r *SessionRepo) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
