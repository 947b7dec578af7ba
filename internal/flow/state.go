package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Kind string

const (
	KindRegistration Kind = "registration"
	KindLogin        Kind = "login"
)

// Step is one state of a flow's transition table.
type Step string

// Registration steps, strictly ordered.
const (
	StepEmail        Step = "email"
	StepEmailCode    Step = "email_code"
	StepPersonalInfo Step = "personal_info"
	StepUsername     Step = "username"
	StepPassword     Step = "password"
	StepSummary      Step = "summary"
)

// Login steps.
const (
	StepCredentials   Step = "credentials"
	StepMethodChoice  Step = "method_choice"
	StepVerify        Step = "verify"
	StepAuthenticated Step = "authenticated"
)

// State is the transient, session-scoped record of an in-progress flow.
// Collected fields are never persisted to the user table until commit.
// Verification-attempt counters deliberately live in the rate limiter's
// atomic Redis keys, not in this blob, so concurrent retries cannot lose
// increments through a read-modify-write race.
type State struct {
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind"`
	Step           Step              `json:"step"`
	Fields         map[string]string `json:"fields,omitempty"`
	EmailVerified  bool              `json:"emailVerified,omitempty"`
	PendingCode    string            `json:"pendingCode,omitempty"` // sha256 hash, never plaintext
	CodeIssuedAt   time.Time         `json:"codeIssuedAt,omitempty"`
	ResendCount    int               `json:"resendCount,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	Methods        []string          `json:"methods,omitempty"`
	Method         string            `json:"method,omitempty"`
	RememberDevice bool              `json:"rememberDevice,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func (s *State) Field(name string) string {
	if s.Fields == nil {
		return ""
	}
	return s.Fields[name]
}

func (s *State) SetField(name, value string) {
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	s.Fields[name] = value
}

// Store keeps flow state in Redis under an opaque handle with a sliding
// TTL. An expired flow is simply absent on the next read.
type Store struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{Redis: redisClient, TTL: ttl}
}

func flowKey(id string) string {
	return "flow:" + id
}

// Begin creates a fresh flow at its first step and persists it.
func (s *Store) Begin(ctx context.Context, kind Kind, first Step) (*State, error) {
	st := &State{
		ID:        uuid.NewString(),
		Kind:      kind,
		Step:      first,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) Get(ctx context.Context, id string) (*State, error) {
	if id == "" {
		return nil, nil
	}
	data, err := s.Redis.Get(ctx, flowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) Save(ctx context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, flowKey(st.ID), data, s.TTL).Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.Redis.Del(ctx, flowKey(id)).Err()
}
