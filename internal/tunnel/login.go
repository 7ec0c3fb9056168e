package tunnel

import (
	"fmt"
	"net"
	"time"

	"github.com/abcdlsj/tele/internal/auth"
	"github.com/abcdlsj/tele/internal/proto"
	"github.com/abcdlsj/tele/internal/share"
)

const loginTimeout = 10 * time.Second

func login(conn net.Conn, token string) error {
	conn.SetDeadline(time.Now().Add(loginTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := proto.Send(conn, proto.NewMsgLogin(token, share.GetVersion())); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	resp := &proto.MsgLoginResp{}
	if err := proto.Recv(conn, resp); err != nil {
		return fmt.Errorf("recv login resp: %w", err)
	}
	if resp.Status != proto.StatusSuccess {
		return fmt.Errorf("login %s: %w", resp.Status, auth.ErrInvalidToken)
	}
	return nil
}

func verifyLogin(conn net.Conn, authenticator auth.Authenticator) (*proto.MsgLogin, error) {
	conn.SetDeadline(time.Now().Add(loginTimeout))
	defer conn.SetDeadline(time.Time{})

	msg := &proto.MsgLogin{}
	if err := proto.Recv(conn, msg); err != nil {
		return nil, err
	}

	if err := authenticator.VerifyLogin(msg); err != nil {
		proto.Send(conn, &proto.MsgLoginResp{Status: proto.StatusFailed})
		return nil, err
	}

	if err := proto.Send(conn, &proto.MsgLoginResp{Status: proto.StatusSuccess}); err != nil {
		return nil, err
	}
	return msg, nil
}
