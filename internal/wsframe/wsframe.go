// Package wsframe implements the minimal WebSocket frame codec the ws
// transport needs: encoding one unfragmented frame per call, and decoding a
// byte stream into reassembled (FIN-terminated) frames. It only speaks the
// binary frame format; the HTTP upgrade handshake lives in the ws transport
// package.
package wsframe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// Opcodes per RFC 6455 §5.2.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// ErrFrameTooLarge guards against a peer-declared payload length large
// enough to be a memory-exhaustion attempt rather than a real message.
var ErrFrameTooLarge = errors.New("wsframe: frame payload exceeds limit")

// Encode serializes one complete (FIN-set, unfragmented) frame. masked must
// be true for client-to-server frames and false for server-to-client
// frames, per RFC 6455 §5.1's masking requirement.
func Encode(opcode byte, payload []byte, masked bool) []byte {
	n := len(payload)
	b0 := 0x80 | opcode

	var hdr []byte
	switch {
	case n < 126:
		hdr = []byte{b0, byte(n)}
	case n <= 0xffff:
		hdr = make([]byte, 4)
		hdr[0] = b0
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(n))
	default:
		hdr = make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(n))
	}

	if !masked {
		return append(hdr, payload...)
	}

	hdr[1] |= 0x80
	var key [4]byte
	_, _ = rand.Read(key[:])
	out := make([]byte, 0, len(hdr)+4+n)
	out = append(out, hdr...)
	out = append(out, key[:]...)
	body := make([]byte, n)
	for i := range body {
		body[i] = payload[i] ^ key[i%4]
	}
	return append(out, body...)
}

// Decoder incrementally reassembles WebSocket frames from fed byte slices,
// gluing continuation frames into one payload, since the frame boundary is
// the message boundary for this transport.
type Decoder struct {
	buf     []byte
	maxSize int64 // -1 disables the check, mirroring RCVMAXSIZE

	msgOp  byte
	msg    []byte
	inMsg  bool
}

// NewDecoder creates a Decoder enforcing maxSize on each reassembled
// message (-1 disables it).
func NewDecoder(maxSize int64) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Feed appends newly-read bytes to the decode buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next extracts one fully-reassembled frame (opcode of the first fragment,
// concatenated payload) if enough bytes are buffered. ok is false if more
// input is needed; control frames (close/ping/pong) are never fragmented
// per RFC 6455 and are returned as soon as their single frame is complete.
func (d *Decoder) Next() (opcode byte, payload []byte, ok bool, err error) {
	for {
		hdrLen, payloadLen, masked, fin, op, have := d.peekHeader()
		if !have {
			return 0, nil, false, nil
		}
		if d.maxSize >= 0 && payloadLen > d.maxSize {
			return 0, nil, false, ErrFrameTooLarge
		}
		total := hdrLen + int(payloadLen)
		if masked {
			total += 4
		}
		if len(d.buf) < total {
			return 0, nil, false, nil
		}

		pos := hdrLen
		var key [4]byte
		if masked {
			copy(key[:], d.buf[pos:pos+4])
			pos += 4
		}
		body := make([]byte, payloadLen)
		copy(body, d.buf[pos:pos+int(payloadLen)])
		if masked {
			for i := range body {
				body[i] ^= key[i%4]
			}
		}
		d.buf = d.buf[total:]

		if op == OpClose || op == OpPing || op == OpPong {
			return op, body, true, nil
		}

		if op != OpContinuation {
			d.msgOp = op
			d.msg = append(d.msg[:0], body...)
			d.inMsg = true
		} else if d.inMsg {
			d.msg = append(d.msg, body...)
			if d.maxSize >= 0 && int64(len(d.msg)) > d.maxSize {
				return 0, nil, false, ErrFrameTooLarge
			}
		}
		if fin {
			d.inMsg = false
			out := d.msg
			d.msg = nil
			return d.msgOp, out, true, nil
		}
		// Not FIN: loop to see if the next continuation frame has already
		// arrived in the same read.
	}
}

// peekHeader parses a frame header without consuming d.buf, reporting the
// header length, declared payload length, mask bit, FIN bit and opcode.
// have is false if fewer than the 2 mandatory header bytes are buffered.
func (d *Decoder) peekHeader() (hdrLen int, payloadLen int64, masked, fin bool, opcode byte, have bool) {
	if len(d.buf) < 2 {
		return 0, 0, false, false, 0, false
	}
	b0, b1 := d.buf[0], d.buf[1]
	fin = b0&0x80 != 0
	opcode = b0 & 0x0f
	masked = b1&0x80 != 0
	ln := int64(b1 & 0x7f)
	hdrLen = 2
	switch ln {
	case 126:
		if len(d.buf) < 4 {
			return 0, 0, false, false, 0, false
		}
		ln = int64(binary.BigEndian.Uint16(d.buf[2:4]))
		hdrLen = 4
	case 127:
		if len(d.buf) < 10 {
			return 0, 0, false, false, 0, false
		}
		ln = int64(binary.BigEndian.Uint64(d.buf[2:10]))
		hdrLen = 10
	}
	return hdrLen, ln, masked, fin, opcode, true
}
