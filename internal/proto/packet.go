package proto

import (
	"encoding/json"
	"fmt"
	"io"
)

type PacketType byte

const (
	PacketUnknown   PacketType = 0x00
	PacketLogin     PacketType = 0x01
	PacketLoginResp PacketType = 0x02
	PacketOpen      PacketType = 0x03
	PacketOpenResp  PacketType = 0x04
	PacketDatagram  PacketType = 0x05
)

// MaxPayload is bounded by the two byte length header.
const MaxPayload = 65535

func (p PacketType) String() string {
	switch p {
	case PacketLogin:
		return "login"
	case PacketLoginResp:
		return "loginresp"
	case PacketOpen:
		return "open"
	case PacketOpenResp:
		return "openresp"
	case PacketDatagram:
		return "dgram"
	default:
		return "unknown"
	}
}

func packet(typ PacketType, msg interface{}) ([]byte, error) {
	buf, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return packet0(typ, buf)
}

// packet0 frames buf as type(1) | len(2) | payload.
func packet0(typ PacketType, buf []byte) ([]byte, error) {
	if len(buf) > MaxPayload {
		return nil, ErrMsgLength
	}
	ret := make([]byte, 3+len(buf))
	ret[0] = byte(typ)
	ret[1] = byte(len(buf) >> 8)
	ret[2] = byte(len(buf))
	copy(ret[3:], buf)
	return ret, nil
}

func read(r io.Reader) (PacketType, []byte, error) {
	hdr := make([]byte, 3)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return PacketUnknown, nil, fmt.Errorf("%w: %w", ErrMsgRead, err)
		}
		return PacketUnknown, nil, err
	}

	l := int(hdr[1])<<8 + int(hdr[2])
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return PacketUnknown, nil, fmt.Errorf("%w: %w", ErrMsgLength, err)
	}

	return PacketType(hdr[0]), buf, nil
}
