package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/coder/websocket"
)

// Wire protocols accepted by [ChannelConfig].Protocol.
const (
	// ProtocolSocketIO speaks Socket.IO v4 over the Engine.IO websocket
	// transport. It is the default and what a Flask-SocketIO server expects.
	ProtocolSocketIO = "socketio"

	// ProtocolJSON sends one {"event","data"} object per websocket message.
	ProtocolJSON = "json"
)

// ErrServerClosed is returned when the server ends the session at the
// protocol level rather than by closing the websocket.
var ErrServerClosed = errors.New("transport: server closed the session")

// inbound is one decoded text message.
type inbound struct {
	env   Envelope
	event bool   // env holds an event for the message handler
	reply []byte // written back on the same connection, e.g. a pong
}

// framing maps envelopes onto one wire protocol.
type framing interface {
	// endpoint returns the URL to dial for the configured server URL.
	endpoint(u *url.URL) string

	// open runs the handshake on a fresh connection. It returns how long the
	// connection may stay silent before it counts as dead (zero for no
	// limit) and any events the server sent before the handshake finished.
	open(ctx context.Context, conn *websocket.Conn) (time.Duration, []Envelope, error)

	encode(env Envelope) ([]byte, error)
	decode(data []byte) (inbound, error)

	// goodbye is sent before a client-initiated close. Nil sends nothing.
	goodbye() []byte
}

func newFraming(protocol string) (framing, error) {
	switch protocol {
	case "", ProtocolSocketIO:
		return socketIO{}, nil
	case ProtocolJSON:
		return jsonFrames{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown protocol %q", protocol)
	}
}

// ── JSON ──────────────────────────────────────────────────────────────────────

type jsonFrames struct{}

func (jsonFrames) endpoint(u *url.URL) string { return u.String() }

func (jsonFrames) open(context.Context, *websocket.Conn) (time.Duration, []Envelope, error) {
	return 0, nil, nil
}

func (jsonFrames) encode(env Envelope) ([]byte, error) { return json.Marshal(env) }

func (jsonFrames) decode(data []byte) (inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return inbound{}, err
	}
	if env.Event == "" {
		return inbound{}, errors.New("frame has no event")
	}
	return inbound{env: env, event: true}, nil
}

func (jsonFrames) goodbye() []byte { return nil }

// ── Socket.IO ─────────────────────────────────────────────────────────────────

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v4 packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

// socketIO handles only the default namespace and text packets.
type socketIO struct{}

// engineOpen is the payload of the Engine.IO open packet. Intervals are in
// milliseconds.
type engineOpen struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

func (socketIO) endpoint(u *url.URL) string {
	e := *u
	if e.Path == "" || e.Path == "/" {
		e.Path = "/socket.io/"
	}
	q := e.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	e.RawQuery = q.Encode()
	return e.String()
}

func (s socketIO) open(ctx context.Context, conn *websocket.Conn) (time.Duration, []Envelope, error) {
	data, err := readText(ctx, conn)
	if err != nil {
		return 0, nil, err
	}
	if len(data) == 0 || data[0] != eioOpen {
		return 0, nil, fmt.Errorf("transport: expected engine.io open packet, got %q", clip(data))
	}
	var hello engineOpen
	if err := json.Unmarshal(data[1:], &hello); err != nil {
		return 0, nil, fmt.Errorf("transport: engine.io open packet: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte{eioMessage, sioConnect}); err != nil {
		return 0, nil, fmt.Errorf("transport: socket.io connect: %w", err)
	}

	// The server may emit from its connect handler before acknowledging.
	var early []Envelope
	for {
		data, err := readText(ctx, conn)
		if err != nil {
			return 0, nil, err
		}
		if len(data) >= 2 && data[0] == eioMessage {
			switch data[1] {
			case sioConnect:
				idle := time.Duration(hello.PingInterval+hello.PingTimeout) * time.Millisecond
				return idle, early, nil
			case sioConnectError:
				return 0, nil, fmt.Errorf("transport: socket.io connect refused: %s", data[2:])
			}
		}
		in, err := s.decode(data)
		if err != nil {
			return 0, nil, err
		}
		if in.reply != nil {
			if err := conn.Write(ctx, websocket.MessageText, in.reply); err != nil {
				return 0, nil, fmt.Errorf("transport: pong: %w", err)
			}
		}
		if in.event {
			early = append(early, in.env)
		}
	}
}

// encode renders 42["event"] or 42["event",data].
func (socketIO) encode(env Envelope) ([]byte, error) {
	name, err := json.Marshal(env.Event)
	if err != nil {
		return nil, err
	}
	args := []json.RawMessage{name}
	if len(env.Data) > 0 {
		args = append(args, env.Data)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

func (socketIO) decode(data []byte) (inbound, error) {
	if len(data) == 0 {
		return inbound{}, errors.New("empty packet")
	}
	switch data[0] {
	case eioPing:
		return inbound{reply: append([]byte{eioPong}, data[1:]...)}, nil
	case eioPong, eioNoop:
		return inbound{}, nil
	case eioClose:
		return inbound{}, ErrServerClosed
	case eioMessage:
	default:
		return inbound{}, fmt.Errorf("unknown engine.io packet %q", clip(data))
	}

	if len(data) < 2 {
		return inbound{}, errors.New("empty socket.io packet")
	}
	switch data[1] {
	case sioEvent:
		return decodeEvent(data[2:])
	case sioDisconnect:
		return inbound{}, ErrServerClosed
	case sioConnectError:
		return inbound{}, fmt.Errorf("%w: %s", ErrServerClosed, data[2:])
	case sioConnect, sioAck:
		return inbound{}, nil
	default:
		return inbound{}, fmt.Errorf("unsupported socket.io packet %q", clip(data))
	}
}

func (socketIO) goodbye() []byte { return []byte{eioMessage, sioDisconnect} }

// decodeEvent parses [nsp,][ackID]["event",data...]. Events outside the
// default namespace are dropped.
func decodeEvent(p []byte) (inbound, error) {
	if len(p) > 0 && p[0] == '/' {
		nsp, rest, ok := bytes.Cut(p, []byte{','})
		if !ok || string(nsp) != "/" {
			return inbound{}, nil
		}
		p = rest
	}
	p = bytes.TrimLeft(p, "0123456789")

	var args []json.RawMessage
	if err := json.Unmarshal(p, &args); err != nil {
		return inbound{}, err
	}
	if len(args) == 0 {
		return inbound{}, errors.New("event packet without a name")
	}
	env := Envelope{}
	if err := json.Unmarshal(args[0], &env.Event); err != nil || env.Event == "" {
		return inbound{}, fmt.Errorf("event name %s is not a string", args[0])
	}
	if len(args) > 1 {
		env.Data = args[1]
	}
	return inbound{env: env, event: true}, nil
}

func readText(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("transport: handshake read: %w", err)
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

// clip shortens a packet for error messages.
func clip(b []byte) []byte {
	if len(b) > 32 {
		return b[:32]
	}
	return b
}
