package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hophop.gg/internal/config"
	"hophop.gg/internal/logs"
	"hophop.gg/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		actorID = flag.String("actor", "76561198000000001", "actor id; numeric ids are stamped as owner on loads")
		name    = flag.String("name", "console", "actor display name")
		token   = flag.String("token", os.Getenv("HOPHOP_WS_TOKEN"), "ws token, if the server requires one")
		level   = flag.String("log_level", "warn", "log level")
	)
	flag.Parse()

	logger := logs.New("console", config.LogConfig{Level: *level})
	defer func() { _ = logger.Sync() }()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.String("url", *url), zap.Error(err))
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	c := &console{conn: conn, out: os.Stdout, log: logger}
	w, err := c.hello(*actorID, *name, *token)
	if err != nil {
		logger.Fatal("hello", zap.Error(err))
	}
	fmt.Fprintf(os.Stdout, "connected to %s as %s (commands: %s)\n", w.WorldID, w.ActorID, strings.Join(w.Commands, ", "))

	if err := c.run(os.Stdin); err != nil && ctx.Err() == nil {
		logger.Error("session ended", zap.Error(err))
		os.Exit(1)
	}
}

// console sends one CMD per input line and prints its replies. Lines run one
// at a time; the next line is read after the previous DONE.
type console struct {
	conn *websocket.Conn
	out  io.Writer
	log  *zap.Logger
	seq  int
}

func (c *console) hello(actorID, name, token string) (protocol.WelcomeMsg, error) {
	msg := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ActorID: actorID, ActorName: name}
	if token != "" {
		msg.Auth = &protocol.HelloAuth{Token: token}
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return protocol.WelcomeMsg{}, err
	}
	var w protocol.WelcomeMsg
	if err := c.conn.ReadJSON(&w); err != nil {
		return w, err
	}
	if w.Type != protocol.TypeWelcome {
		return w, fmt.Errorf("expected WELCOME, got %q", w.Type)
	}
	return w, nil
}

func (c *console) run(in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if _, err := c.command(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// command runs one line and returns its DONE.
func (c *console) command(line string) (protocol.DoneMsg, error) {
	c.seq++
	id := strconv.Itoa(c.seq)
	if err := c.conn.WriteJSON(protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: id, Line: line}); err != nil {
		return protocol.DoneMsg{}, err
	}
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.DoneMsg{}, err
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			c.log.Warn("bad message", zap.Error(err))
			continue
		}
		switch base.Type {
		case protocol.TypeReply:
			var r protocol.ReplyMsg
			if err := json.Unmarshal(b, &r); err == nil {
				fmt.Fprintln(c.out, r.Text)
			}
		case protocol.TypeDone:
			var d protocol.DoneMsg
			if err := json.Unmarshal(b, &d); err != nil {
				return d, err
			}
			if d.ID != id {
				continue
			}
			if !d.OK {
				fmt.Fprintf(c.out, "[%s]\n", d.Code)
			}
			c.log.Debug("done", zap.String("line", line), zap.String("op_id", d.OpID), zap.Bool("ok", d.OK))
			return d, nil
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(b, &e)
			return protocol.DoneMsg{}, errors.New(e.Code + ": " + e.Message)
		}
	}
}
