package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types, as the first byte of a websocket frame.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO v5 packet types, following an eioMessage byte.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// deadline is how long the channel may stay silent before it is presumed dead.
func (o openPacket) deadline() time.Duration {
	d := time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
	if d <= 0 {
		d = 45 * time.Second
	}
	return d
}

// socketURL turns the server's HTTP origin into its websocket endpoint.
func socketURL(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var errNotEvent = errors.New("not an event packet")

// decodeEvent parses a Socket.IO EVENT payload (everything after "42"):
// an optional "/namespace," prefix, an optional ack id and a JSON array whose
// first element is the event name.
func decodeEvent(data []byte) (string, []json.RawMessage, error) {
	if len(data) > 0 && data[0] == '/' {
		idx := bytes.IndexByte(data, ',')
		if idx < 0 {
			return "", nil, errNotEvent
		}
		data = data[idx+1:]
	}
	for len(data) > 0 && data[0] >= '0' && data[0] <= '9' {
		data = data[1:]
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errNotEvent
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	return name, parts[1:], nil
}

// connectFrame is the Socket.IO CONNECT for the default namespace. The token
// travels in the auth payload.
func connectFrame(token string) []byte {
	if token == "" {
		return []byte{eioMessage, sioConnect}
	}
	auth, _ := json.Marshal(map[string]string{"token": token})
	return append([]byte{eioMessage, sioConnect}, auth...)
}
