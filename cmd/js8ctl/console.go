package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jimsnab/go-cmdline"
	"github.com/jimsnab/go-lane"

	"github.com/dbehnke/js8chat/internal/js8"
)

// errQuit ends the read loop
var errQuit = errors.New("quit")

type (
	console struct {
		l       lane.Lane
		client  *js8.Client
		timeout time.Duration
		cmdLine *cmdline.CommandLine

		mu  sync.Mutex
		out io.Writer

		quit atomic.Bool
	}

	cmdContext struct {
		con *console
		ctx context.Context
	}
)

// commands whose single argument is the rest of the line, spaces included
var restOfLine = map[string]bool{
	"send":  true,
	"settx": true,
}

func newConsole(l lane.Lane, client *js8.Client, out io.Writer, timeout time.Duration) *console {
	con := &console{
		l:       l,
		client:  client,
		timeout: timeout,
		out:     out,
		cmdLine: cmdline.NewCommandLine(),
	}

	con.cmdLine.RegisterCommand(fnHelp, "help?List the available commands")
	con.cmdLine.RegisterCommand(fnQuit, "quit?Leave the console")
	con.cmdLine.RegisterCommand(fnStatus, "status?Show the controller link state")
	con.cmdLine.RegisterCommand(fnCallsign, "callsign?Show the station callsign")
	con.cmdLine.RegisterCommand(fnGrid, "grid?Show the station grid locator")
	con.cmdLine.RegisterCommand(fnFreq, "freq?Show the dial frequency and audio offset")
	con.cmdLine.RegisterCommand(fnCalls, "calls?List stations heard recently")
	con.cmdLine.RegisterCommand(fnBand, "band?List band activity by audio offset")
	con.cmdLine.RegisterCommand(fnSend, "send <string-text>?Transmit a message, e.g. send W1AW HELLO")
	con.cmdLine.RegisterCommand(fnSetTx, "settx <string-text>?Replace the transmit text box")
	con.cmdLine.RegisterCommand(fnRxText, "rxtext?Show the receive text window")
	con.cmdLine.RegisterCommand(fnTxText, "txtext?Show the transmit text box")
	con.cmdLine.RegisterCommand(fnPing, "ping?Send a keepalive (the controller sends no reply)")
	con.cmdLine.RegisterCommand(fnRaw, "raw <string-type> [<string-value>]?Send any request type and print the reply")

	return con
}

func (con *console) printf(format string, v ...any) {
	con.mu.Lock()
	defer con.mu.Unlock()
	fmt.Fprintf(con.out, format, v...)
}

// splitCommand breaks a console line into command line arguments
func splitCommand(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	if restOfLine[name] {
		if rest = strings.TrimSpace(rest); rest == "" {
			return []string{name}
		}
		return []string{name, rest}
	}
	return append([]string{name}, strings.Fields(rest)...)
}

// execute runs one console line. It returns errQuit when the user asks to leave.
func (con *console) execute(line string) error {
	args := splitCommand(line)
	if len(args) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), con.timeout)
	defer cancel()

	con.l.Tracef("command: %s", strings.Join(args, " "))
	if err := con.cmdLine.ProcessWithContext(&cmdContext{con: con, ctx: ctx}, args); err != nil {
		return err
	}
	if con.quit.Load() {
		return errQuit
	}
	return nil
}

// watch prints controller notifications as they arrive
func (con *console) watch() (unsubscribe func()) {
	types := []js8.EventType{
		js8.EventIncomingText,
		js8.EventCallActivity,
		js8.EventBandActivity,
		js8.EventStationCallsign,
		js8.EventRigFrequency,
		js8.EventConnected,
		js8.EventDisconnected,
		js8.EventUnclassified,
	}

	var unsubs []func()
	for _, t := range types {
		unsubs = append(unsubs, con.client.Subscribe(t, con.printEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (con *console) printEvent(ev js8.Event) error {
	msg := ev.Message
	switch ev.Type {
	case js8.EventConnected:
		con.printf("* connected to %s\n", con.client.Address())
	case js8.EventDisconnected:
		con.printf("* disconnected, reconnecting\n")
	case js8.EventIncomingText:
		line := msg.Value
		if snr, ok := msg.Params["SNR"]; ok {
			line += fmt.Sprintf(" (SNR %v)", snr)
		}
		con.printf("[%s] %s\n", msg.Type, line)
	case js8.EventCallActivity:
		con.printf("[%s] %d stations\n", msg.Type, len(js8.ParseCallActivity(msg)))
	case js8.EventBandActivity:
		con.printf("[%s] %d offsets\n", msg.Type, len(js8.ParseBandActivity(msg)))
	case js8.EventRigFrequency:
		f := js8.ParseFrequency(msg)
		con.printf("[%s] dial %d offset %d\n", msg.Type, f.Dial, f.Offset)
	default:
		con.printf("[%s] %s\n", msg.Type, msg.Value)
	}
	return nil
}

func fnHelp(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	m := cc.con.cmdLine.Summary()
	named, _ := m["named"].([]any)

	lines := make([]string, 0, len(named))
	for _, cmd := range named {
		entry, _ := cmd.(map[string]any)
		primary, _ := entry["primary"].(map[string]string)
		for usage, help := range primary {
			lines = append(lines, fmt.Sprintf("  %-32s %s", usage, help))
		}
	}
	sort.Strings(lines)
	cc.con.printf("%s\n", strings.Join(lines, "\n"))
	return nil
}

func fnQuit(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	cc.con.quit.Store(true)
	return nil
}

func fnStatus(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	c := cc.con.client
	cc.con.printf("%s %s (pending requests %d, reconnect pending %v)\n",
		c.State(), c.Address(), c.PendingRequests(), c.ReconnectPending())
	stats := c.Stats()
	cc.con.printf("frames %d, malformed %d, events dropped %d\n",
		stats.FramesDecoded, stats.FramesMalformed, stats.EventsDropped)
	return nil
}

func fnCallsign(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	callsign, err := cc.con.client.StationCallsign(cc.ctx)
	if err != nil {
		return err
	}
	cc.con.printf("%s\n", orNone(callsign))
	return nil
}

func fnGrid(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	grid, err := cc.con.client.StationGrid(cc.ctx)
	if err != nil {
		return err
	}
	cc.con.printf("%s\n", orNone(grid))
	return nil
}

func fnFreq(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	f, err := cc.con.client.Frequency(cc.ctx)
	if err != nil {
		return err
	}
	cc.con.printf("frequency %d Hz (dial %d, offset %d)\n", f.Freq, f.Dial, f.Offset)
	return nil
}

func fnCalls(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	calls, err := cc.con.client.CallActivity(cc.ctx)
	if err != nil {
		return err
	}

	callsigns := make([]string, 0, len(calls))
	for callsign := range calls {
		callsigns = append(callsigns, callsign)
	}
	sort.Strings(callsigns)

	for _, callsign := range callsigns {
		entry := calls[callsign]
		cc.con.printf("%-10s SNR %+3d  %-6s  %s\n", callsign, entry.SNR, entry.Grid,
			time.UnixMilli(entry.UTC).UTC().Format("15:04:05"))
	}
	cc.con.printf("%d stations\n", len(calls))
	return nil
}

func fnBand(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	band, err := cc.con.client.BandActivity(cc.ctx)
	if err != nil {
		return err
	}

	entries := make([]js8.BandActivityEntry, 0, len(band))
	for _, entry := range band {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

	for _, entry := range entries {
		cc.con.printf("%5d Hz  SNR %+3d  %s\n", entry.Offset, entry.SNR, entry.Text)
	}
	cc.con.printf("%d offsets\n", len(entries))
	return nil
}

func fnSend(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	text := args["text"].(string)
	if err := cc.con.client.SendMessage(cc.ctx, text); err != nil {
		return err
	}
	cc.con.printf("queued: %s\n", text)
	return nil
}

func fnSetTx(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	return cc.con.client.SetTxText(cc.ctx, args["text"].(string))
}

func fnRxText(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	text, err := cc.con.client.RxText(cc.ctx)
	if err != nil {
		return err
	}
	cc.con.printf("%s\n", orNone(text))
	return nil
}

func fnTxText(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	text, err := cc.con.client.TxText(cc.ctx)
	if err != nil {
		return err
	}
	cc.con.printf("%s\n", orNone(text))
	return nil
}

func fnPing(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	if err := cc.con.client.Ping(cc.ctx); err != nil {
		return err
	}
	cc.con.printf("ping sent\n")
	return nil
}

func fnRaw(args cmdline.Values) error {
	cc := args[""].(*cmdContext)
	msgType := strings.ToUpper(args["type"].(string))
	value, _ := args["value"].(string)

	resp, err := cc.con.client.Send(cc.ctx, msgType, value, nil)
	if err != nil {
		return err
	}
	if resp == nil {
		cc.con.printf("(no reply)\n")
		return nil
	}
	cc.con.printf("%s\n", resp)
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
