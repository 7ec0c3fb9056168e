package auth

import (
	"errors"
	"time"

	"github.com/abcdlsj/tele/internal/proto"
)

var ErrInvalidToken = errors.New("invalid token")

// loginWindow bounds how old a login timestamp may be.
const loginWindow = 5 * time.Minute

type Authenticator interface {
	VerifyLogin(*proto.MsgLogin) error
}

type TokenAuthenticator struct {
	token string
	now   func() time.Time
}

// New returns a token authenticator, or Nop when token is empty.
func New(token string) Authenticator {
	if token == "" {
		return &Nop{}
	}
	return &TokenAuthenticator{token: token, now: time.Now}
}

func (t *TokenAuthenticator) VerifyLogin(msg *proto.MsgLogin) error {
	age := t.now().Sub(time.Unix(msg.Timestamp, 0))
	if age > loginWindow || age < -loginWindow {
		return ErrInvalidToken
	}
	if proto.HashToken(t.token, msg.Timestamp) != msg.Token {
		return ErrInvalidToken
	}
	return nil
}

type Nop struct{}

func (n *Nop) VerifyLogin(*proto.MsgLogin) error {
	return nil
}
