package proto

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type Msg interface {
	Type() PacketType
}

func Send(w io.Writer, msg Msg) error {
	buf, err := packet(msg.Type(), msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func Recv(r io.Reader, msg Msg) error {
	p, buf, err := read(r)
	if err != nil {
		return err
	}

	if p != msg.Type() {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidMsg, p, msg.Type())
	}

	if err := json.Unmarshal(buf, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMsgUnmarshal, err)
	}

	return nil
}

func Read(r io.Reader) (PacketType, []byte, error) {
	return read(r)
}

// SendDatagram frames a raw payload, datagrams skip the json layer.
func SendDatagram(w io.Writer, payload []byte) error {
	buf, err := packet0(PacketDatagram, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func RecvDatagram(r io.Reader) ([]byte, error) {
	p, buf, err := read(r)
	if err != nil {
		return nil, err
	}
	if p != PacketDatagram {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidMsg, p, PacketDatagram)
	}
	return buf, nil
}

type MsgLogin struct {
	Token     string `json:"token"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

func (m *MsgLogin) Type() PacketType {
	return PacketLogin
}

func NewMsgLogin(token, version string) *MsgLogin {
	ts := time.Now().Unix()
	return &MsgLogin{
		Token:     HashToken(token, ts),
		Version:   version,
		Timestamp: ts,
	}
}

func HashToken(token string, ts int64) string {
	hash := md5.New()
	hash.Write([]byte(token + fmt.Sprintf("%d", ts)))
	return fmt.Sprintf("%x", hash.Sum(nil))
}

type MsgLoginResp struct {
	Status string `json:"status"`
}

func (m *MsgLoginResp) Type() PacketType {
	return PacketLoginResp
}

// MsgOpen asks the far end to resolve a service for a new pipe.
type MsgOpen struct {
	Service   string `json:"service"`
	ProxyType string `json:"proxy_type"`
}

func (m *MsgOpen) Type() PacketType {
	return PacketOpen
}

func NewMsgOpen(service, proxyType string) *MsgOpen {
	return &MsgOpen{
		Service:   service,
		ProxyType: proxyType,
	}
}

const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

type MsgOpenResp struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (m *MsgOpenResp) Type() PacketType {
	return PacketOpenResp
}

func NewMsgOpenResp(status, reason string) *MsgOpenResp {
	return &MsgOpenResp{
		Status: status,
		Reason: reason,
	}
}
