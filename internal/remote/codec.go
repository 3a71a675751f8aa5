// Package remote implements the length-prefixed request/response framing
// used to talk to name servers and brokers, and the per-connection
// correlation machinery that turns that framing into a promise-based RPC
// client.
package remote

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// RPC type bits carried in Header.Flag.
const (
	rpcTypeResponseBit int32 = 1 << 0
	rpcOneWayBit       int32 = 1 << 1
)

// serializeTypeJSON is the only header encoding this client emits; it is
// stamped into the top byte of the header-length field on the wire, mirroring
// the broker's own framing so a mixed Java/Go cluster can talk to either.
const serializeTypeJSON byte = 0

// Header is the decoded form of a command's JSON header.
type Header struct {
	Code      int16             `json:"code"`
	Language  string            `json:"language"`
	Version   int32             `json:"version"`
	Opaque    int32             `json:"opaque"`
	Flag      int32             `json:"flag"`
	Remark    string            `json:"remark,omitempty"`
	ExtFields map[string]string `json:"extFields,omitempty"`
}

func (h *Header) IsResponse() bool { return h.Flag&rpcTypeResponseBit != 0 }
func (h *Header) IsOneWay() bool   { return h.Flag&rpcOneWayBit != 0 }
func (h *Header) MarkResponse()    { h.Flag |= rpcTypeResponseBit }
func (h *Header) MarkOneWay()      { h.Flag |= rpcOneWayBit }

// Command is one wire frame: a header plus an opaque body. ResponseCode is
// only meaningful when Header.IsResponse() -- it's the same int16 as
// Header.Code, kept as a named accessor because response codes and request
// codes are read from the same wire field but mean different things.
type Command struct {
	Header Header
	Body   []byte
}

func (c *Command) ResponseCode() int16 { return c.Header.Code }

// NewRequest builds a Command in request form. opaque identifies this
// request for correlation; callers get one from Conn.nextOpaque.
func NewRequest(code int16, opaque int32, ext map[string]string, body []byte) *Command {
	return &Command{
		Header: Header{
			Code:      code,
			Language:  "GO",
			Version:   1,
			Opaque:    opaque,
			ExtFields: ext,
		},
		Body: body,
	}
}

// Encode serializes cmd into the wire format:
//
//	[4B total length][4B header length (top byte = serialize type)][header JSON][body]
func Encode(cmd *Command) ([]byte, error) {
	headerJSON, err := json.Marshal(cmd.Header)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal header: %w", err)
	}

	totalLen := 4 + len(headerJSON) + len(cmd.Body)
	buf := make([]byte, 4+totalLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalLen))

	headerLenField := uint32(len(headerJSON)) | uint32(serializeTypeJSON)<<24
	binary.BigEndian.PutUint32(buf[4:8], headerLenField)

	copy(buf[8:8+len(headerJSON)], headerJSON)
	copy(buf[8+len(headerJSON):], cmd.Body)
	return buf, nil
}

// maxFrameSize caps a single frame to 16MiB, matching the broker's own
// default transfer limit; without a cap a corrupted length prefix could
// make Decode attempt an enormous allocation.
const maxFrameSize = 16 * 1024 * 1024

// Decode reads exactly one frame from r.
func Decode(r io.Reader) (*Command, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	totalLen := binary.BigEndian.Uint32(lenBuf[:])
	if totalLen < 4 || totalLen > maxFrameSize {
		return nil, fmt.Errorf("remote: invalid frame length %d", totalLen)
	}

	frame := make([]byte, totalLen)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}

	headerLenField := binary.BigEndian.Uint32(frame[0:4])
	serializeType := byte(headerLenField >> 24)
	headerLen := int(headerLenField & 0x00FFFFFF)
	if headerLen < 0 || 4+headerLen > len(frame) {
		return nil, fmt.Errorf("remote: invalid header length %d", headerLen)
	}
	if serializeType != serializeTypeJSON {
		return nil, fmt.Errorf("remote: unsupported header serialize type %d", serializeType)
	}

	var hdr Header
	if err := json.Unmarshal(frame[4:4+headerLen], &hdr); err != nil {
		return nil, fmt.Errorf("remote: unmarshal header: %w", err)
	}

	body := frame[4+headerLen:]
	// Body is a slice into frame; copy it out so the caller can hold onto it
	// independent of this read's buffer lifetime.
	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	return &Command{Header: hdr, Body: bodyCopy}, nil
}
