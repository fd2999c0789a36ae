package ws

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/nanoproto/sp/spcode"
)

// websocketGUID is RFC 6455's fixed accept-key salt.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// handshakeDeadline bounds the synchronous HTTP upgrade exchange performed
// before handing the connection to usock.Endpoint, reusing the SP
// handshake's 1000ms default one layer below it — the upgrade needs a
// bound of its own, since the SP handshake timer only starts once the
// upgrade completes.
const handshakeDeadline = 1000 * time.Millisecond

// clientHandshake performs the HTTP/1.1 Upgrade exchange as the WebSocket
// client, per RFC 6455 §4.1. host/path form the request line and Host
// header; conn is the already-dialed TCP connection.
func clientHandshake(conn net.Conn, host, path string) error {
	_ = conn.SetDeadline(time.Now().Add(handshakeDeadline))
	defer conn.SetDeadline(time.Time{})

	var keyRaw [16]byte
	_, _ = rand.Read(keyRaw[:])
	key := base64.StdEncoding.EncodeToString(keyRaw[:])

	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\n"+
			"Host: %s\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Key: %s\r\n"+
			"Sec-WebSocket-Version: 13\r\n"+
			"\r\n",
		path, host, key)
	if _, err := conn.Write([]byte(req)); err != nil {
		return err
	}

	r := textproto.NewReader(bufio.NewReader(conn))
	statusLine, err := r.ReadLine()
	if err != nil {
		return err
	}
	if !strings.Contains(statusLine, "101") {
		return spcode.Wrap("ws_handshake", spcode.EPROTO, fmt.Errorf("unexpected status line %q", statusLine))
	}
	hdr, err := r.ReadMIMEHeader()
	if err != nil {
		return err
	}
	want := acceptKey(key)
	if hdr.Get("Sec-WebSocket-Accept") != want {
		return spcode.Wrap("ws_handshake", spcode.EPROTO, fmt.Errorf("bad Sec-WebSocket-Accept"))
	}
	return nil
}

// serverHandshake performs the server side of the RFC 6455 §4.2 upgrade,
// reading the client's request line and headers off conn and writing the
// 101 response.
func serverHandshake(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(handshakeDeadline))
	defer conn.SetDeadline(time.Time{})

	r := textproto.NewReader(bufio.NewReader(conn))
	requestLine, err := r.ReadLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(requestLine, "GET ") {
		return spcode.Wrap("ws_handshake", spcode.EPROTO, fmt.Errorf("unexpected request line %q", requestLine))
	}
	hdr, err := r.ReadMIMEHeader()
	if err != nil {
		return err
	}
	key := hdr.Get("Sec-WebSocket-Key")
	if key == "" || !strings.EqualFold(hdr.Get("Upgrade"), "websocket") {
		return spcode.Wrap("ws_handshake", spcode.EPROTO, fmt.Errorf("missing/invalid upgrade headers"))
	}

	resp := fmt.Sprintf(
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n"+
			"\r\n",
		acceptKey(key))
	_, err = conn.Write([]byte(resp))
	return err
}

// acceptKey computes RFC 6455 §4.2.2's Sec-WebSocket-Accept value.
func acceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
