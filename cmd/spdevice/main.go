// Command spdevice bridges two Scalability Protocols endpoints with
// sp.Device, the raw-socket forwarder. It contains no protocol
// logic of its own; it only parses arguments, builds a raw socket with the
// requested protocol identity for each given address (one socket in the
// loopback form), binds or connects each per -listen, and forwards until
// either side closes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/protocol"
	_ "github.com/nanoproto/sp/transport/inproc"
	_ "github.com/nanoproto/sp/transport/ipc"
	_ "github.com/nanoproto/sp/transport/tcp"
	_ "github.com/nanoproto/sp/transport/ws"
)

// protoInfo resolves the wire identity a raw socket should advertise for
// the named conversation pattern, so a device bridging e.g. "req" and "rep"
// still passes the handshake each cooked peer expects, even
// though spdevice itself never decodes a message body.
var protoInfo = map[string]sp.ProtocolInfo{
	"pair":       {Self: 0x10, SelfName: "pair", Peer: 0x10, PeerName: "pair"},
	"pub":        {Self: 0x20, SelfName: "pub", Peer: 0x21, PeerName: "sub"},
	"sub":        {Self: 0x21, SelfName: "sub", Peer: 0x20, PeerName: "pub"},
	"req":        {Self: 0x30, SelfName: "req", Peer: 0x31, PeerName: "rep", HeaderLen: 4},
	"rep":        {Self: 0x31, SelfName: "rep", Peer: 0x30, PeerName: "req", HeaderLen: 4},
	"surveyor":   {Self: 0x32, SelfName: "surveyor", Peer: 0x33, PeerName: "respondent", HeaderLen: 4},
	"respondent": {Self: 0x33, SelfName: "respondent", Peer: 0x32, PeerName: "surveyor", HeaderLen: 4},
	"push":       {Self: 0x50, SelfName: "push", Peer: 0x51, PeerName: "pull"},
	"pull":       {Self: 0x51, SelfName: "pull", Peer: 0x50, PeerName: "push"},
	"bus":        {Self: 0x70, SelfName: "bus", Peer: 0x70, PeerName: "bus"},
}

func main() {
	var (
		addrA  = flag.String("a", "", "first endpoint address, e.g. tcp://*:5555")
		addrB  = flag.String("b", "", "second endpoint address, e.g. ipc:///tmp/b.sock (omit for loopback on -a alone)")
		protoA = flag.String("proto-a", "req", "protocol identity to advertise on -a")
		protoB = flag.String("proto-b", "rep", "protocol identity to advertise on -b")
		listen = flag.Bool("listen", true, "bind (true) or connect (false) both endpoints")
	)
	flag.Parse()

	if *addrA == "" {
		fmt.Fprintln(os.Stderr, "spdevice: -a is required")
		os.Exit(2)
	}

	infoA, ok := protoInfo[*protoA]
	if !ok {
		fmt.Fprintf(os.Stderr, "spdevice: unknown protocol %q\n", *protoA)
		os.Exit(2)
	}

	sockA, err := sp.NewSocket(protocol.NewRawSocket(infoA), infoA)
	if err != nil {
		fatal("socket a", err)
	}
	if _, err := addEndpoint(sockA, *listen, *addrA); err != nil {
		fatal("endpoint a", err)
	}

	sockB := sockA
	if *addrB != "" {
		infoB, ok := protoInfo[*protoB]
		if !ok {
			fmt.Fprintf(os.Stderr, "spdevice: unknown protocol %q\n", *protoB)
			os.Exit(2)
		}
		sockB, err = sp.NewSocket(protocol.NewRawSocket(infoB), infoB)
		if err != nil {
			fatal("socket b", err)
		}
		if _, err := addEndpoint(sockB, *listen, *addrB); err != nil {
			fatal("endpoint b", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sp.Device(ctx, sockA, sockB); err != nil && ctx.Err() == nil {
		fatal("device", err)
	}
}

func addEndpoint(s *sp.Socket, listen bool, addr string) (uint32, error) {
	if listen {
		return s.AddEndpoint(sp.EndpointListen, addr)
	}
	return s.AddEndpoint(sp.EndpointDial, addr)
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "spdevice: %s: %v\n", op, err)
	os.Exit(1)
}
