package builds

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const commandPrefix = "build."

// Commands lists the verbs Dispatcher understands.
var Commands = []string{"save", "load", "delete", "undo", "list"}

// Dispatcher turns command lines into engine calls.
type Dispatcher struct {
	eng *Engine
	now func() time.Time
}

func NewDispatcher(eng *Engine) *Dispatcher {
	return &Dispatcher{eng: eng, now: time.Now}
}

// Command is a parsed command line.
type Command struct {
	Verb string
	Arg  string
}

// ParseCommand splits a line into verb and argument. A leading "build." is
// dropped and "save.current" is an alias for save without a name.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}
	}
	verb := strings.TrimPrefix(strings.ToLower(fields[0]), commandPrefix)
	arg := strings.TrimSpace(line[len(fields[0]):])
	if verb == "save.current" {
		verb, arg = "save", ""
	}
	return Command{Verb: verb, Arg: arg}
}

// DefaultSaveName is the name used when save is given none.
func DefaultSaveName(now time.Time) string {
	return "save_" + now.Format("20060102_150405")
}

// Execute runs one command line for actor.
func (d *Dispatcher) Execute(ctx context.Context, actor Actor, line string, reply Reply) (Result, error) {
	if reply == nil {
		reply = discard
	}
	cmd := ParseCommand(line)
	switch cmd.Verb {
	case "save":
		name := cmd.Arg
		if name == "" {
			name = DefaultSaveName(d.now())
		}
		return d.eng.Save(ctx, actor, name, reply)
	case "load":
		if cmd.Arg == "" {
			reply("Usage: build.load <save_name>")
			return Result{Op: "load"}, fmt.Errorf("%w: load needs a save name", ErrUsage)
		}
		return d.eng.Load(ctx, actor, cmd.Arg, reply)
	case "delete":
		if cmd.Arg == "" {
			reply("Usage: build.delete <save_name>")
			return Result{Op: "delete"}, fmt.Errorf("%w: delete needs a save name", ErrUsage)
		}
		return d.eng.Delete(ctx, actor, cmd.Arg, reply)
	case "undo":
		return d.eng.Undo(ctx, actor, reply)
	case "list":
		return d.eng.List(ctx, actor, reply)
	case "help", "":
		reply("Commands: " + strings.Join(Commands, ", "))
		return Result{Op: "help"}, nil
	default:
		reply(fmt.Sprintf("Unknown command '%s'. Commands: %s", cmd.Verb, strings.Join(Commands, ", ")))
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Verb)
	}
}
