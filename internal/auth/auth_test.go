package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/abcdlsj/tele/internal/proto"
)

func TestTokenAuthenticator(t *testing.T) {
	a := New("secret")

	if err := a.VerifyLogin(proto.NewMsgLogin("secret", "dev")); err != nil {
		t.Fatalf("valid login rejected: %v", err)
	}
	if err := a.VerifyLogin(proto.NewMsgLogin("wrong", "dev")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}

	stale := &proto.MsgLogin{Timestamp: time.Now().Add(-time.Hour).Unix()}
	stale.Token = proto.HashToken("secret", stale.Timestamp)
	if err := a.VerifyLogin(stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("stale login err = %v", err)
	}
}

func TestNop(t *testing.T) {
	a := New("")
	if _, ok := a.(*Nop); !ok {
		t.Fatalf("empty token should give Nop, got %T", a)
	}
	if err := a.VerifyLogin(&proto.MsgLogin{}); err != nil {
		t.Fatal(err)
	}
}
