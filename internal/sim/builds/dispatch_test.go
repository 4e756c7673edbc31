package builds

import (
	"context"
	"errors"
	"testing"
	"time"

	"hophop.gg/internal/protocol"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"", Command{}},
		{"   ", Command{}},
		{"save base", Command{Verb: "save", Arg: "base"}},
		{"build.save  my base ", Command{Verb: "save", Arg: "my base"}},
		{"BUILD.LOAD Base", Command{Verb: "load", Arg: "Base"}},
		{"build.save.current", Command{Verb: "save"}},
		{"save.current ignored", Command{Verb: "save"}},
		{"undo", Command{Verb: "undo"}},
		{"list\textra", Command{Verb: "list", Arg: "extra"}},
	}
	for _, tc := range cases {
		if got := ParseCommand(tc.line); got != tc.want {
			t.Fatalf("ParseCommand(%q)=%+v want %+v", tc.line, got, tc.want)
		}
	}
}

func TestDefaultSaveName(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 30, 5, 0, time.UTC)
	if got := DefaultSaveName(now); got != "save_20261015_093005" {
		t.Fatalf("name=%q", got)
	}
}

func TestDispatcher_Execute(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.eng)
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	res, err := d.Execute(ctx, builder, "build.save", nil)
	if err != nil || res.Save != "save_20260102_030405" {
		t.Fatalf("save res=%+v err=%v", res, err)
	}
	names, _ := env.store.List()
	if len(names) != 1 || names[0] != "save_20260102_030405" {
		t.Fatalf("stored=%v", names)
	}

	var r replies
	_, err = d.Execute(ctx, builder, "build.load", r.add)
	if !errors.Is(err, ErrUsage) || Code(err) != protocol.ErrBadRequest || !r.has("Usage: build.load <save_name>") {
		t.Fatalf("load usage err=%v replies=%s", err, r.String())
	}
	_, err = d.Execute(ctx, builder, "delete", nil)
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("delete usage err=%v", err)
	}

	r = replies{}
	_, err = d.Execute(ctx, builder, "build.paste", r.add)
	if !errors.Is(err, ErrUnknownCommand) || Code(err) != protocol.ErrUnknownCommand || !r.has("Unknown command 'paste'") {
		t.Fatalf("unknown err=%v replies=%s", err, r.String())
	}

	r = replies{}
	if _, err := d.Execute(ctx, builder, "help", r.add); err != nil || !r.has("save, load, delete, undo, list") {
		t.Fatalf("help err=%v replies=%s", err, r.String())
	}
	if res, err := d.Execute(ctx, builder, "list", nil); err != nil || res.Count != 1 {
		t.Fatalf("list res=%+v err=%v", res, err)
	}
	if _, err := d.Execute(ctx, builder, "build.delete save_20260102_030405", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestCode(t *testing.T) {
	if Code(nil) != "" {
		t.Fatalf("nil code")
	}
	if got := Code(errors.New("boom")); got != protocol.ErrInternal {
		t.Fatalf("code=%s", got)
	}
	if got := Code(context.DeadlineExceeded); got != protocol.ErrCancelled {
		t.Fatalf("code=%s", got)
	}
	for _, err := range []error{ErrOperationInProgress, ErrNothingToUndo, ErrUsage, ErrUnknownCommand, ErrInternal} {
		if !protocol.IsKnownCode(Code(err)) {
			t.Fatalf("%v maps to unknown code %q", err, Code(err))
		}
	}
}
