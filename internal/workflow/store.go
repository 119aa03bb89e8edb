package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrDraftNotFound    = errors.New("booking draft not found or expired")
	ErrCommitInProgress = errors.New("booking draft is already being committed")
)

// commitGuardTTL bounds how long a crashed committer can block the draft.
const commitGuardTTL = 30 * time.Second

// DraftStore keeps drafts between requests. Nothing in it is ledger state,
// so an expired draft needs no cleanup.
//
// GuardCommit claims the draft for one commit. It fails with
// ErrCommitInProgress while another holder has it; release frees it.
type DraftStore interface {
	Save(ctx context.Context, d Draft) error
	Load(ctx context.Context, id uuid.UUID) (Draft, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GuardCommit(ctx context.Context, id uuid.UUID) (release func(), err error)
}

type RedisDraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDraftStore(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{client: client, ttl: ttl}
}

func draftKey(id uuid.UUID) string {
	return "draft:" + id.String()
}

func commitGuardKey(id uuid.UUID) string {
	return "draft:commit:" + id.String()
}

func (s *RedisDraftStore) Save(ctx context.Context, d Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := s.client.Set(ctx, draftKey(d.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *RedisDraftStore) Load(ctx context.Context, id uuid.UUID) (Draft, error) {
	data, err := s.client.Get(ctx, draftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	return d, nil
}

func (s *RedisDraftStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.client.Del(ctx, draftKey(id)).Err()
}

var releaseGuardScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisDraftStore) GuardCommit(ctx context.Context, id uuid.UUID) (func(), error) {
	key := commitGuardKey(id)
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, commitGuardTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("guard draft commit: %w", err)
	}
	if !ok {
		return nil, ErrCommitInProgress
	}
	return func() {
		// a cancelled request still frees the guard
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseGuardScript.Run(releaseCtx, s.client, []string{key}, token).Err()
	}, nil
}

type memoryEntry struct {
	draft   Draft
	expires time.Time
}

// MemoryDraftStore expires drafts lazily on read.
type MemoryDraftStore struct {
	mu         sync.Mutex
	drafts     map[uuid.UUID]memoryEntry
	committing map[uuid.UUID]struct{}
	ttl        time.Duration
	now        func() time.Time
}

func NewMemoryDraftStore(ttl time.Duration) *MemoryDraftStore {
	return &MemoryDraftStore{
		drafts:     make(map[uuid.UUID]memoryEntry),
		committing: make(map[uuid.UUID]struct{}),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *MemoryDraftStore) Save(_ context.Context, d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.ID] = memoryEntry{draft: d.clone(), expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryDraftStore) Load(_ context.Context, id uuid.UUID) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.drafts[id]
	if !ok {
		return Draft{}, ErrDraftNotFound
	}
	if s.ttl > 0 && s.now().After(e.expires) {
		delete(s.drafts, id)
		return Draft{}, ErrDraftNotFound
	}
	return e.draft.clone(), nil
}

func (s *MemoryDraftStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}

func (s *MemoryDraftStore) GuardCommit(_ context.Context, id uuid.UUID) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.committing[id]; busy {
		return nil, ErrCommitInProgress
	}
	s.committing[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.committing, id)
			s.mu.Unlock()
		})
	}, nil
}
