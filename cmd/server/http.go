package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hophop.gg/internal/config"
	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/persistence/indexdb"
	"hophop.gg/internal/protocol"
	"hophop.gg/internal/sim/builds"
	"hophop.gg/internal/sim/world"
)

const adminActorPrefix = "admin:"

type app struct {
	cfg    config.Config
	world  *world.World
	eng    *builds.Engine
	disp   *builds.Dispatcher
	idx    runtimeIndex
	reader *indexdb.Reader
	log    *zap.Logger
}

func newRouter(a *app, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", a.handleMetrics)
	r.Handle("/v1/ws", wsHandler)

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Get("/state", a.handleState)
		r.Post("/snapshot", a.handleSnapshot)
		r.Get("/sessions", func(rw http.ResponseWriter, _ *http.Request) {
			writeJSON(rw, http.StatusOK, a.eng.Sessions().Stats())
		})
		r.Get("/saves", a.handleSaves)
		r.Get("/saves/{name}", a.handleSaveDoc)
		r.Get("/saves/{name}/backups", a.handleBackups)
		r.Get("/ops", a.handleOps)
		r.Post("/cmd", a.handleCmd)
	})
	return r
}

// requireAdmin admits loopback callers, or anyone with the bearer token when
// one is configured.
func (a *app) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if tok := a.cfg.Auth.AdminToken; tok != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				http.Error(rw, "unauthorized", http.StatusUnauthorized)
				return
			}
		} else if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (a *app) handleState(rw http.ResponseWriter, _ *http.Request) {
	resp := struct {
		WorldID  string             `json:"world_id"`
		Tick     uint64             `json:"tick"`
		Metrics  world.WorldMetrics `json:"metrics"`
		Sessions int                `json:"sessions"`
		Index    *indexdb.Stats     `json:"index,omitempty"`
	}{
		WorldID:  a.world.ID(),
		Tick:     a.world.CurrentTick(),
		Metrics:  a.world.Metrics(),
		Sessions: len(a.eng.Sessions().Stats()),
	}
	if a.idx != nil {
		st := a.idx.Stats()
		resp.Index = &st
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *app) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := a.world.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func (a *app) handleSaves(rw http.ResponseWriter, r *http.Request) {
	names, err := a.eng.Store().List()
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	resp := struct {
		Names   []string          `json:"names"`
		Indexed []indexdb.SaveRow `json:"indexed,omitempty"`
	}{Names: names}
	if a.reader != nil {
		rows, err := a.reader.Saves(r.Context())
		if err != nil {
			a.log.Warn("index saves", zap.Error(err))
		}
		resp.Indexed = rows
	}
	if resp.Names == nil {
		resp.Names = []string{}
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *app) handleSaveDoc(rw http.ResponseWriter, r *http.Request) {
	doc, err := a.eng.Store().ReadRaw(chi.URLParam(r, "name"))
	if err != nil {
		writeError(rw, storeStatus(err), err)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write(doc)
}

type backupView struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Bytes     int64  `json:"bytes"`
	CreatedAt string `json:"created_at"`
}

func (a *app) handleBackups(rw http.ResponseWriter, r *http.Request) {
	bs, err := a.eng.Store().Backups(chi.URLParam(r, "name"))
	if err != nil {
		writeError(rw, storeStatus(err), err)
		return
	}
	out := make([]backupView, 0, len(bs))
	for _, b := range bs {
		out = append(out, backupView{ID: b.ID, Reason: b.Meta.Reason, Bytes: b.Meta.Bytes, CreatedAt: b.Meta.CreatedAt})
	}
	writeJSON(rw, http.StatusOK, out)
}

func (a *app) handleOps(rw http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(rw, http.StatusNotFound, errors.New("index disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := a.reader.RecentOps(r.Context(), r.URL.Query().Get("actor"), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []indexdb.OpRow{}
	}
	writeJSON(rw, http.StatusOK, rows)
}

type cmdRequest struct {
	Actor string `json:"actor"`
	Owner uint64 `json:"owner,omitempty"`
	Line  string `json:"line"`
}

type cmdResponse struct {
	OK      bool     `json:"ok"`
	OpID    string   `json:"op_id,omitempty"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
	Count   int      `json:"count"`
	Replies []string `json:"replies"`
}

// handleCmd runs one command line as an admin actor. Admin actors get their
// own guard and undo list, separate from any websocket actor.
func (a *app) handleCmd(rw http.ResponseWriter, r *http.Request) {
	var req cmdRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Line) == "" {
		writeError(rw, http.StatusBadRequest, errors.New("line is required"))
		return
	}
	name := strings.TrimSpace(req.Actor)
	if name == "" {
		name = "console"
	}
	actor := builds.Actor{ID: adminActorPrefix + name, Name: name, Owner: req.Owner}

	var mu sync.Mutex
	replies := []string{}
	res, err := a.disp.Execute(r.Context(), actor, req.Line, func(text string) {
		mu.Lock()
		replies = append(replies, text)
		mu.Unlock()
	})

	mu.Lock()
	resp := cmdResponse{OK: err == nil, OpID: res.OpID, Code: builds.Code(err), Count: res.Count, Replies: replies}
	mu.Unlock()
	if err != nil {
		resp.Error = err.Error()
	}
	status := http.StatusOK
	if resp.Code == protocol.ErrInternal {
		status = http.StatusInternalServerError
	}
	writeJSON(rw, status, resp)
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, buildsave.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, buildsave.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]any{"ok": false, "error": err.Error()})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
