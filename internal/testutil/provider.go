// Package testutil provides fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"stream-auditor/internal/models"
	"stream-auditor/internal/provider"
)

// Reply is one scripted provider answer. A non-nil Err is returned as a
// transport failure and Status is ignored.
type Reply struct {
	Status int
	Body   string
	Header http.Header
	Err    error
	// Delay blocks the call, honouring the request context.
	Delay time.Duration
}

// MockProvider implements provider.Provider with scripted replies.
type MockProvider struct {
	mu sync.Mutex

	// AuthErr, when set, fails every Authenticate call.
	AuthErr error
	// AuthErrs fail the n-th Authenticate call (1-based) only.
	AuthErrs map[int]error
	// TokenTTL gives issued tokens an expiry; zero means unknown expiry.
	TokenTTL time.Duration
	// AuthDelay slows every exchange down.
	AuthDelay time.Duration

	// Default answers identifiers with no script left.
	Default Reply

	scripts    map[models.Identifier][]Reply
	authCalls  int
	fetchCalls map[models.Identifier]int
	fetches    []FetchCall
}

// FetchCall records what a Fetch was called with.
type FetchCall struct {
	ID      models.Identifier
	Token   string
	Filters models.Filters
}

// NewMockProvider returns a provider that answers every fetch with a small streams body until scripted otherwise.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Default:    Reply{Status: http.StatusOK, Body: StreamsBody(Streams{Total: 1000})},
		scripts:    make(map[models.Identifier][]Reply),
		fetchCalls: make(map[models.Identifier]int),
	}
}

// Script queues replies for id. The last reply repeats once the queue is
// drained.
func (m *MockProvider) Script(id string, replies ...Reply) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.Identifier(models.NormalizeIdentifier(id))
	m.scripts[key] = append(m.scripts[key], replies...)
	return m
}

func (m *MockProvider) Authenticate(ctx context.Context, _ models.Credentials) (provider.Token, error) {
	m.mu.Lock()
	m.authCalls++
	n := m.authCalls
	delay := m.AuthDelay
	err := m.AuthErr
	if e, ok := m.AuthErrs[n]; ok {
		err = e
	}
	ttl := m.TokenTTL
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return provider.Token{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return provider.Token{}, err
	}

	now := time.Now()
	tok := provider.Token{Value: fmt.Sprintf("token-%d", n), IssuedAt: now, Scheme: provider.SchemeRaw}
	if ttl > 0 {
		exp := now.Add(ttl)
		tok.ExpiresAt = &exp
	}
	return tok, nil
}

func (m *MockProvider) Fetch(ctx context.Context, token provider.Token, id models.Identifier, filters models.Filters) (*provider.Response, error) {
	m.mu.Lock()
	m.fetchCalls[id]++
	m.fetches = append(m.fetches, FetchCall{ID: id, Token: token.Value, Filters: filters})

	reply := m.Default
	if queue := m.scripts[id]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			m.scripts[id] = queue[1:]
		}
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reply.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	header := reply.Header
	if header == nil {
		header = http.Header{}
	}
	return &provider.Response{StatusCode: reply.Status, Header: header, Body: []byte(reply.Body)}, nil
}

// AuthCalls returns how many exchanges were performed.
func (m *MockProvider) AuthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authCalls
}

// FetchCalls returns how many fetches were issued for id.
func (m *MockProvider) FetchCalls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[models.Identifier(models.NormalizeIdentifier(id))]
}

// Fetches returns every recorded fetch in call order.
func (m *MockProvider) Fetches() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FetchCall(nil), m.fetches...)
}

var _ provider.Provider = (*MockProvider)(nil)
