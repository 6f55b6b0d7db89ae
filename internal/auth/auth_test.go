package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-secret", "topiary", time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestIssueAndVerify(t *testing.T) {
	svc := newService(t)

	token, err := svc.IssueToken("alice", []string{"lead", "lead", " ", "oncall"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	p, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "alice" {
		t.Fatalf("subject = %q", p.Subject)
	}
	if len(p.Roles) != 2 || !p.HasRole("lead") || !p.HasRole("oncall") {
		t.Fatalf("roles = %v", p.Roles)
	}
	if p.HasRole("admin") {
		t.Fatal("HasRole reported a role the token does not carry")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := newService(t)
	other, err := NewService("other-secret", "topiary", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, err := other.IssueToken("alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := newService(t)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.IssueToken("alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	svc.now = time.Now
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	svc := newService(t)
	other, err := NewService("test-secret", "someone-else", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, err := other.IssueToken("alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService("  ", "topiary", time.Hour); err == nil {
		t.Fatal("NewService accepted an empty secret")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{Subject: "alice", Roles: []string{"lead"}})
	p, ok := FromContext(ctx)
	if !ok || p.Subject != "alice" {
		t.Fatalf("FromContext = %+v, %v", p, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("FromContext reported a principal on an empty context")
	}
}
