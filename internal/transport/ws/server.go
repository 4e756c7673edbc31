package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hophop.gg/internal/protocol"
	"hophop.gg/internal/sim/builds"
	"hophop.gg/internal/sim/world"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

type Options struct {
	// Token, when set, must match HELLO auth.token.
	Token string
	// OutQueue is the per-connection send buffer in messages.
	OutQueue int
}

// Server speaks the command protocol over websocket: HELLO, then any number
// of CMD messages, each answered by REPLY lines and one DONE.
type Server struct {
	world *world.World
	eng   *builds.Engine
	disp  *builds.Dispatcher
	log   *zap.Logger
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, eng *builds.Engine, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OutQueue <= 0 {
		opts.OutQueue = 256
	}
	return &Server{
		world: w,
		eng:   eng,
		disp:  builds.NewDispatcher(eng),
		log:   logger.Named("ws"),
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// conn is one accepted connection after a successful handshake.
type conn struct {
	actor   builds.Actor
	session string
	out     chan []byte
	log     *zap.Logger
}

// send queues v without blocking. Messages are dropped when the client does
// not keep up.
func (c *conn) send(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal", zap.Error(err))
		return
	}
	select {
	case <-ctx.Done():
	case c.out <- b:
	default:
		c.log.Warn("send queue full; message dropped", zap.Int("queue", cap(c.out)))
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer wsConn.Close()

		c := s.handshake(wsConn)
		if c == nil {
			return
		}
		c.log.Info("actor connected", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := wsConn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				case <-ping.C:
					if err := wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var inflight sync.WaitGroup
		wsConn.SetPongHandler(func(string) error {
			return wsConn.SetReadDeadline(time.Now().Add(pongWait))
		})

		// Reader loop.
		for {
			_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
			_, msg, err := wsConn.ReadMessage()
			if err != nil {
				break
			}
			cmd, perr := decodeCmd(msg)
			if perr != "" {
				c.send(ctx, protocol.ErrorMsg{
					Type:            protocol.TypeError,
					ProtocolVersion: protocol.Version,
					Code:            protocol.ErrProtoBadRequest,
					Message:         perr,
				})
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.runCmd(ctx, c, cmd)
			}()
		}

		// Cleanup: commands that have not reached the world yet are cancelled
		// and the actor's undo list is dropped.
		cancel()
		s.eng.Disconnect(c.actor.ID)
		inflight.Wait()
		c.log.Info("actor disconnected")
	}
}

func decodeCmd(msg []byte) (protocol.CmdMsg, string) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.CmdMsg{}, "invalid json"
	}
	if base.Type != protocol.TypeCmd {
		return protocol.CmdMsg{}, "unexpected message type " + base.Type
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return protocol.CmdMsg{}, "invalid CMD"
	}
	if cmd.ProtocolVersion != protocol.Version {
		return protocol.CmdMsg{}, "bad protocol_version"
	}
	if strings.TrimSpace(cmd.ID) == "" || strings.TrimSpace(cmd.Line) == "" {
		return protocol.CmdMsg{}, "CMD needs id and line"
	}
	return cmd, ""
}

func (s *Server) runCmd(ctx context.Context, c *conn, cmd protocol.CmdMsg) {
	reply := func(text string) {
		c.send(ctx, protocol.ReplyMsg{
			Type:            protocol.TypeReply,
			ProtocolVersion: protocol.Version,
			ID:              cmd.ID,
			Text:            text,
		})
	}
	res, err := s.disp.Execute(ctx, c.actor, cmd.Line, reply)
	c.send(ctx, protocol.DoneMsg{
		Type:            protocol.TypeDone,
		ProtocolVersion: protocol.Version,
		ID:              cmd.ID,
		OpID:            res.OpID,
		OK:              err == nil,
		Code:            builds.Code(err),
	})
}

func (s *Server) handshake(wsConn *websocket.Conn) *conn {
	_ = wsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := wsConn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(wsConn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(wsConn, "invalid HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(wsConn, "bad protocol_version")
		return nil
	}
	hello.ActorID = strings.TrimSpace(hello.ActorID)
	if hello.ActorID == "" {
		closeWith(wsConn, "missing actor_id")
		return nil
	}
	if s.opts.Token != "" {
		tok := ""
		if hello.Auth != nil {
			tok = strings.TrimSpace(hello.Auth.Token)
		}
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.opts.Token)) != 1 {
			closeWith(wsConn, "unauthorized")
			return nil
		}
	}
	if hello.ActorName == "" {
		hello.ActorName = hello.ActorID
	}

	// Numeric actor ids double as entity owner ids.
	owner, _ := strconv.ParseUint(hello.ActorID, 10, 64)
	c := &conn{
		actor:   builds.Actor{ID: hello.ActorID, Name: hello.ActorName, Owner: owner},
		session: uuid.NewString(),
		out:     make(chan []byte, s.opts.OutQueue),
	}
	c.log = s.log.With(zap.String("actor", c.actor.ID), zap.String("session", c.session))

	cats := s.world.Catalogs()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       c.session,
		ActorID:         c.actor.ID,
		WorldID:         s.world.ID(),
		Catalogs: protocol.CatalogDigests{
			PrefabsDigest: cats.Prefabs.Digest,
			ItemsDigest:   cats.Items.Digest,
		},
		Commands: builds.Commands,
	}
	if err := writeJSON(wsConn, welcome); err != nil {
		return nil
	}
	return c
}

func closeWith(c *websocket.Conn, reason string) {
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(c *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, b)
}
