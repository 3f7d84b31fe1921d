package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements SessionStore on a Redis (or compatible) server.
// Layout:
//
//	session:<id>           JSON document of the full aggregate
//	sessions               set of all session ids
//	commit:<repo>@<sha>    id of the active session for that commit, if any
//
// The commit key is a derived index maintained on every put; the session
// document stays authoritative, so lookups re-check status after following
// the index.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string { return "session:" + id }

func commitKey(repository, commitSHA string) string {
	return "commit:" + repository + "@" + commitSHA
}

func (s *RedisStore) PutSession(ctx context.Context, session *ReviewSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(session.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := s.client.SAdd(ctx, "sessions", session.ID).Err(); err != nil {
		return fmt.Errorf("index session id: %w", err)
	}

	key := commitKey(session.Repository, session.CommitSHA)
	if session.Status == StatusActive {
		if err := s.client.Set(ctx, key, session.ID, 0).Err(); err != nil {
			return fmt.Errorf("index active commit: %w", err)
		}
		return nil
	}
	// Clear the commit index only if it still points at this session, so a
	// successor active session for the same commit is never unindexed.
	current, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read commit index: %w", err)
	}
	if current == session.ID {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clear commit index: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*ReviewSession, error) {
	payload, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session ReviewSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.Participants == nil {
		session.Participants = make(map[string]*SessionParticipant)
	}
	return &session, nil
}

func (s *RedisStore) FindActiveByCommit(ctx context.Context, commitSHA, repository string) (*ReviewSession, error) {
	id, err := s.client.Get(ctx, commitKey(repository, commitSHA)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read commit index: %w", err)
	}

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusActive {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]*ReviewSession, error) {
	ids, err := s.client.SMembers(ctx, "sessions").Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	out := make([]*ReviewSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
