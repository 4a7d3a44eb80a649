package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dbehnke/js8chat/internal/chat"
)

const (
	// writeTimeout bounds a single frame write to a browser
	writeTimeout = 10 * time.Second

	// FormatProto selects binary protobuf frames on /ws
	FormatProto = "proto"
)

// Commands a websocket client may send. Each is answered with a
// "<command>:result" frame to that client only.
const (
	CommandSendMessage = "message:send"
	CommandMarkRead    = "conversation:read"
	CommandGetStation  = "station:get"
)

type clientCommand struct {
	ID   any             `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsConn serializes frame writes from the feed loop and the reader goroutine
type wsConn struct {
	conn   net.Conn
	source io.Reader
	proto  bool

	mu sync.Mutex
}

func (c *wsConn) writeRaw(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(p)
	return err
}

// writeMessage encodes a whole frame first so it reaches the socket in one write
func (c *wsConn) writeMessage(op ws.OpCode, payload []byte) error {
	var buf bytes.Buffer
	if err := wsutil.WriteServerMessage(&buf, op, payload); err != nil {
		return err
	}
	return c.writeRaw(buf.Bytes())
}

func (c *wsConn) writeFrame(frame *Frame) error {
	if !c.proto {
		return c.writeMessage(ws.OpText, frame.JSON())
	}
	payload, err := frame.Proto()
	if err != nil {
		return err
	}
	return c.writeMessage(ws.OpBinary, payload)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	useProto := r.URL.Query().Get("format") == FormatProto

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("Failed to upgrade connection: %v", err)
		}
		return
	}

	c := &wsConn{conn: conn, source: conn, proto: useProto}
	if rw != nil {
		c.source = rw.Reader
	}

	sub := s.hub.Subscribe()
	defer func() {
		s.hub.Unsubscribe(sub)
		conn.Close()
	}()

	if s.config.Debug && s.logger != nil {
		s.logger.Printf("WebSocket client connected: %s (proto=%v)", conn.RemoteAddr(), useProto)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readDone := make(chan error, 1)
	go func() {
		readDone <- s.readWebSocket(ctx, c)
	}()

	status, err := NewFrame(chat.EventConnectionStatus, chat.ConnectionStatus{Connected: s.service.Connected()})
	if err != nil || c.writeFrame(status) != nil {
		return
	}

	for {
		select {
		case err := <-readDone:
			if s.config.Debug && s.logger != nil {
				s.logger.Printf("WebSocket client %s disconnected: %v", conn.RemoteAddr(), err)
			}
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				c.writeMessage(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutting down"))
				return
			}
			if err := c.writeFrame(frame); err != nil {
				if s.logger != nil {
					s.logger.Printf("Failed to write to WebSocket client: %v", err)
				}
				return
			}
		}
	}
}

// readWebSocket answers control frames and client commands until the peer
// closes or the connection fails
func (s *Server) readWebSocket(ctx context.Context, c *wsConn) error {
	var reply bytes.Buffer
	control := wsutil.ControlFrameHandler(&reply, ws.StateServerSide)
	handleControl := func(h ws.Header, r io.Reader) error {
		reply.Reset()
		err := control(h, r)
		if reply.Len() > 0 {
			if werr := c.writeRaw(reply.Bytes()); werr != nil && err == nil {
				err = werr
			}
		}
		return err
	}

	rd := &wsutil.Reader{
		Source:         c.source,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return err
			}
			continue
		}

		payload, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		s.handleClientCommand(ctx, c, hdr.OpCode, payload)
	}
}

func (s *Server) handleClientCommand(ctx context.Context, c *wsConn, op ws.OpCode, payload []byte) {
	if op == ws.OpBinary {
		decoded, err := protoToJSON(payload)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("Failed to decode WebSocket command: %v", err)
			}
			return
		}
		payload = decoded
	}

	var cmd clientCommand
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Type == "" {
		if s.logger != nil {
			s.logger.Printf("Ignoring malformed WebSocket command: %q", payload)
		}
		return
	}

	result := map[string]any{"success": true}
	if cmd.ID != nil {
		result["id"] = cmd.ID
	}
	fail := func(err error) {
		result["success"] = false
		result["error"] = err.Error()
	}

	switch cmd.Type {
	case CommandSendMessage:
		var req sendRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			fail(err)
			break
		}
		msg, err := s.service.SendMessage(ctx, req.To, req.Text)
		if err != nil {
			fail(err)
			break
		}
		result["message"] = msg

	case CommandMarkRead:
		var callsign string
		if err := json.Unmarshal(cmd.Data, &callsign); err != nil {
			fail(err)
			break
		}
		if err := s.service.MarkRead(callsign); err != nil {
			fail(err)
		}

	case CommandGetStation:
		station, err := s.service.Station(ctx)
		if err != nil {
			fail(err)
			break
		}
		result["station"] = station

	default:
		result["success"] = false
		result["error"] = "unknown command " + cmd.Type
	}

	frame, err := NewFrame(cmd.Type+":result", result)
	if err != nil {
		return
	}
	if err := c.writeFrame(frame); err != nil && s.logger != nil {
		s.logger.Printf("Failed to answer WebSocket command: %v", err)
	}
}
