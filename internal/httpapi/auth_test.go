package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"minimart/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if ok {
		user.Password = password
		s.users[username] = user
		s.updates++
	}
	return nil
}

func newStubAuth(t *testing.T, users ...domain.UserAccount) (*AuthManager, *userStoreStub) {
	t.Helper()
	stub := &userStoreStub{}
	for _, user := range users {
		if err := stub.CreateUser(context.Background(), user); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return NewAuthManager(strings.Repeat("k", 32), time.Hour, stub), stub
}

func TestLoginIssuesParseableToken(t *testing.T) {
	auth, _ := newStubAuth(t, domain.UserAccount{
		Username: "admin", Password: "super-secret", Role: "admin", Active: true, CreatedAt: time.Now().UTC(),
	})

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "super-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccounts(t *testing.T) {
	auth, _ := newStubAuth(t,
		domain.UserAccount{Username: "admin", Password: "super-secret", Role: "admin", Active: true, CreatedAt: time.Now().UTC()},
		domain.UserAccount{Username: "gone", Password: "whatever99", Role: "cashier", Active: false, CreatedAt: time.Now().UTC()},
	)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "gone", Password: "whatever99"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestBootstrapUpgradesPlaintextPasswords(t *testing.T) {
	_, stub := newStubAuth(t, domain.UserAccount{
		Username: "legacy", Password: "plain-text-pass", Role: "cashier", Active: true, CreatedAt: time.Now().UTC(),
	})

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", stub.updates)
	}
	if !isPasswordHash(stub.users["legacy"].Password) {
		t.Fatalf("expected stored password to be hashed, got %q", stub.users["legacy"].Password)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth, _ := newStubAuth(t)
	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}

	other, _ := newStubAuth(t, domain.UserAccount{
		Username: "admin", Password: "super-secret", Role: "admin", Active: true, CreatedAt: time.Now().UTC(),
	})
	resp, err := other.Login(domain.LoginRequest{Username: "admin", Password: "super-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	differentSecret := NewAuthManager(strings.Repeat("x", 32), time.Hour, nil)
	if _, err := differentSecret.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}
