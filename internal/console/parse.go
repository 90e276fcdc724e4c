package console

import (
	"errors"
	"fmt"
	"strings"
)

// Action is what an input line asks for.
type Action int

const (
	ActionNone Action = iota
	ActionOn
	ActionOff
	ActionStatus
	ActionHelp
	ActionQuit
)

// ErrUsage is returned for lines that name a known command with the wrong
// arguments.
var ErrUsage = errors.New("usage")

// Input is a parsed console line.
type Input struct {
	Action Action
	Relay  string
}

// Parse turns a line into an Input. Blank lines give ActionNone.
// Command words are case-insensitive; relay names are not.
func Parse(line string) (Input, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Input{}, nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "on", "off":
		if len(args) != 1 {
			return Input{}, fmt.Errorf("%w: %s <relay>", ErrUsage, cmd)
		}
		a := ActionOn
		if cmd == "off" {
			a = ActionOff
		}
		return Input{Action: a, Relay: args[0]}, nil

	case "status", "s":
		if len(args) > 1 {
			return Input{}, fmt.Errorf("%w: status [relay]", ErrUsage)
		}
		in := Input{Action: ActionStatus}
		if len(args) == 1 {
			in.Relay = args[0]
		}
		return in, nil

	case "help", "?":
		return Input{Action: ActionHelp}, nil

	case "quit", "exit", "q":
		return Input{Action: ActionQuit}, nil
	}
	return Input{}, fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
}
