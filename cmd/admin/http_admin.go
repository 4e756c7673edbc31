package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type httpFlags struct {
	url   *string
	token *string
}

func newHTTPFlags(fs *flag.FlagSet) httpFlags {
	return httpFlags{
		url:   fs.String("url", "http://127.0.0.1:8080", "server base url"),
		token: fs.String("token", os.Getenv("HOPHOP_ADMIN_TOKEN"), "admin bearer token"),
	}
}

func (f httpFlags) do(method, path string, body io.Reader, timeout time.Duration) (int, []byte, error) {
	u := strings.TrimRight(strings.TrimSpace(*f.url), "/") + path
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := strings.TrimSpace(*f.token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	hf := newHTTPFlags(fs)
	_ = fs.Parse(args)

	status, b, err := hf.do(http.MethodGet, "/admin/v1/state", nil, 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	hf := newHTTPFlags(fs)
	_ = fs.Parse(args)

	status, b, err := hf.do(http.MethodPost, "/admin/v1/snapshot", nil, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
	if status/100 != 2 {
		os.Exit(1)
	}
}

type cmdResult struct {
	OK      bool     `json:"ok"`
	OpID    string   `json:"op_id"`
	Code    string   `json:"code"`
	Error   string   `json:"error"`
	Replies []string `json:"replies"`
}

// cmdCmd runs a command line on the live server, e.g.
//
//	admin cmd -actor ops load base
func cmdCmd(args []string) {
	fs := flag.NewFlagSet("cmd", flag.ExitOnError)
	hf := newHTTPFlags(fs)
	actor := fs.String("actor", "console", "admin actor name; each name has its own undo list")
	owner := fs.Uint64("owner", 0, "owner id stamped on loaded entities without one")
	_ = fs.Parse(args)

	line := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(line) == "" {
		fmt.Fprintln(os.Stderr, "usage: admin cmd [flags] <save|load|delete|undo|list> [name]")
		os.Exit(2)
	}
	body, _ := json.Marshal(map[string]any{"actor": *actor, "owner": *owner, "line": line})
	status, b, err := hf.do(http.MethodPost, "/admin/v1/cmd", bytes.NewReader(body), 5*time.Minute)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	var res cmdResult
	if err := json.Unmarshal(b, &res); err != nil {
		fmt.Fprintf(os.Stderr, "status %d: %s\n", status, bytes.TrimSpace(b))
		os.Exit(1)
	}
	for _, r := range res.Replies {
		fmt.Println(r)
	}
	if !res.OK {
		fmt.Fprintf(os.Stderr, "%s: %s\n", res.Code, res.Error)
		os.Exit(1)
	}
}
