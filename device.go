package sp

import (
	"context"

	"github.com/nanoproto/sp/spcode"
)

// Device continuously forwards raw messages between a and b, in both
// directions concurrently. Passing the same socket for both a and b gives
// the loopback form. Each hop decrements the remaining hop count, dropping
// a message once it is exhausted. Device returns when either socket
// reports EBADF (closed).
func Device(ctx context.Context, a, b *Socket) error {
	errCh := make(chan error, 2)
	go func() { errCh <- forward(ctx, a, b) }()
	go func() { errCh <- forward(ctx, b, a) }()

	err := <-errCh
	select {
	case <-errCh:
	default:
	}
	return err
}

func forward(ctx context.Context, from, to *Socket) error {
	dir := hopDirection(from.ProtocolInfo().Self)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := from.RawRecv(false)
		if err != nil {
			if spcode.Is(err, spcode.EBADF) {
				return err
			}
			continue
		}
		if !decrementHop(msg, from.optionsSnapshot().maxTTL, dir) {
			msg.Release()
			continue
		}
		if err := to.RawSend(msg, false); err != nil {
			msg.Release()
			if spcode.Is(err, spcode.EBADF) {
				return err
			}
		}
	}
}

// hopDirection reports how this device should track hop depth for the raw
// socket domain a freshly-forwarded message arrived on, given its
// Protocol.Info().Self id. REP and RESPONDENT are the domains a real
// REQ/SURVEYOR client connects to, so a message entering there is a fresh
// request/survey: push a new 4-byte word onto its header, growing the
// stack the way Rep/Respondent already treat "a longer stack of 4-byte hop
// IDs" appended by intermediate devices (see protocol/rep.go). REQ and
// SURVEYOR are the domains a real REP/RESPONDENT server connects to, so a
// message entering there is a reply unwinding back toward the original
// client: pop the word this device (or one further down the chain) pushed
// earlier. Any other domain (PAIR, PUB/SUB, PUSH/PULL, BUS — none of which
// carry a header at all) reports 0: those fall back to the in-memory
// Message.TTL tracking below, good for a single process but not preserved
// across a device chain spanning separate connections.
func hopDirection(self uint16) int {
	switch self {
	case 0x31, 0x33: // rep, respondent
		return 1
	case 0x30, 0x32: // req, surveyor
		return -1
	default:
		return 0
	}
}

// decrementHop enforces the device hop budget. For REQ/REP and
// SURVEYOR/RESPONDENT raw pairs (dir != 0), the count travels on the wire
// as the header's word count, per hopDirection above: pushing a word can
// never collide with REQ's own 4-byte ID (whose final-hop bit 31 is
// always set) the way overwriting or splicing a byte into the
// existing header would, since it's an entirely new word prepended to an
// opaque, already-growable stack Rep/Respondent echo back unexamined.
// For headerless domains (dir == 0), the count instead travels with the
// Message itself (Message.TTL, seeded from this forwarding socket's
// MAXTTL the first time a device sees the message) — this only survives
// hops within a single process, since nothing on the wire carries it
// across a connection boundary; see DESIGN.md for the scope this leaves
// uncovered. Reports false (message dropped) once the count is exhausted.
func decrementHop(msg *Message, maxTTL int, dir int) bool {
	if dir == 0 {
		ttl := msg.TTL()
		if ttl <= 0 {
			ttl = maxTTL
		}
		ttl--
		if ttl <= 0 {
			return false
		}
		msg.SetTTL(ttl)
		return true
	}
	if dir > 0 {
		words := len(msg.Header) / 4
		if words >= maxTTL {
			return false
		}
		pushed := make([]byte, 4+len(msg.Header))
		copy(pushed[4:], msg.Header)
		msg.Header = pushed
		return true
	}
	if len(msg.Header) > 4 {
		msg.Header = msg.Header[4:]
	}
	return true
}
