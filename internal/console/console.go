// Package console provides the interactive command line for ferm-relay.
// Commands are queued to the control loop like any other source; the
// console waits for each result and prints it.
package console

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/chzyer/readline"

	"github.com/sweeney/ferm-relay/internal/control"
	"github.com/sweeney/ferm-relay/internal/status"
)

// ReplyTimeout bounds each wait on the control loop: once to queue a
// command and once more for its result.
const ReplyTimeout = 5 * time.Second

// Console handles interactive mode.
type Console struct {
	rl      *readline.Instance
	out     io.Writer
	cmds    chan<- control.Command
	tracker *status.Tracker
	timeout time.Duration
}

// New creates a console with tab completion for the given relay names.
func New(cmds chan<- control.Command, tracker *status.Tracker, relays []string) (*Console, error) {
	names := func(string) []string { return relays }
	completer := readline.NewPrefixCompleter(
		readline.PcItem("on", readline.PcItemDynamic(names)),
		readline.PcItem("off", readline.PcItemDynamic(names)),
		readline.PcItem("status", readline.PcItemDynamic(names)),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "relay> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(rl.Stdout(), cmds, tracker)
	c.rl = rl
	return c, nil
}

func newConsole(out io.Writer, cmds chan<- control.Command, tracker *status.Tracker) *Console {
	return &Console{out: out, cmds: cmds, tracker: tracker, timeout: ReplyTimeout}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop. It calls cancel when the user
// quits or closes input.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		in, err := Parse(line)
		if err != nil {
			fmt.Fprintln(c.out, err)
			continue
		}
		if !c.exec(ctx, in) {
			cancel()
			return
		}
	}
}

// exec runs one parsed line. It returns false when the console should stop.
func (c *Console) exec(ctx context.Context, in Input) bool {
	switch in.Action {
	case ActionNone:
	case ActionHelp:
		c.printHelp()
	case ActionStatus:
		c.printStatus(in.Relay)
	case ActionOn, ActionOff:
		c.request(ctx, in.Relay, in.Action == ActionOn)
	case ActionQuit:
		fmt.Fprintln(c.out, "Exiting...")
		return false
	}
	return true
}

func (c *Console) request(ctx context.Context, name string, on bool) {
	reply := make(chan control.Result, 1)
	cmd := control.Command{Relay: name, On: on, Source: "console", Reply: reply}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return
	case <-timer.C:
		fmt.Fprintln(c.out, "control loop busy, command dropped")
		return
	}
	timer.Reset(c.timeout)

	select {
	case res := <-reply:
		fmt.Fprintln(c.out, FormatResult(res))
	case <-ctx.Done():
	case <-timer.C:
		fmt.Fprintln(c.out, "no reply from control loop")
	}
}

func (c *Console) printStatus(name string) {
	snap := c.tracker.Snapshot()
	if name == "" {
		fmt.Fprint(c.out, FormatStatus(snap))
		return
	}
	r, ok := snap.Relay(name)
	if !ok {
		fmt.Fprintf(c.out, "unknown relay %q\n", name)
		return
	}
	fmt.Fprintln(c.out, formatRelay(r))
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Relay Commands:
    on <relay>         - Request a relay on
    off <relay>        - Request a relay off
    status [relay]     - Show relay states and guard timers
    help               - Show this help
    quit               - Stop the daemon`)
}

// FormatResult renders a command result as one line.
func FormatResult(res control.Result) string {
	if res.Err != nil {
		return fmt.Sprintf("%s: %v", res.Relay, res.Err)
	}
	switch res.Outcome {
	case control.OutcomeSwitched:
		return fmt.Sprintf("%s:%s", res.Relay, status.StateName(res.On))
	case control.OutcomeNoChange:
		return fmt.Sprintf("%s:%s (no change)", res.Relay, status.StateName(res.On))
	case control.OutcomeBlocked:
		return fmt.Sprintf("%s:%s (blocked, guard active)", res.Relay, status.StateName(res.On))
	}
	return fmt.Sprintf("%s: %s", res.Relay, res.Outcome)
}

// FormatStatus renders one line per relay.
func FormatStatus(snap status.Snapshot) string {
	if len(snap.Relays) == 0 {
		return "no relays\n"
	}
	var s string
	for _, r := range snap.Relays {
		s += formatRelay(r) + "\n"
	}
	return s
}

func formatRelay(r control.RelayStatus) string {
	line := r.Name + ":" + status.StateName(r.On)
	if r.GuardRemaining > 0 {
		line += fmt.Sprintf(" (guard %s)", roundUp(r.GuardRemaining))
	}
	return line + fmt.Sprintf(" on=%d off=%d blocked=%d", r.Counts.On, r.Counts.Off, r.Counts.Blocked)
}

// roundUp rounds d up to a whole second so a running guard never shows 0s.
func roundUp(d time.Duration) time.Duration {
	return (d + time.Second - 1).Truncate(time.Second)
}
