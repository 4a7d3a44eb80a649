package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jimsnab/go-cmdline"
	"github.com/jimsnab/go-lane"

	"github.com/dbehnke/js8chat/internal/js8"
)

const (
	defaultHost = "localhost"
	defaultPort = 2442
	prompt      = "js8> "
)

// laneLogger lets the client log through a lane
type laneLogger struct {
	l lane.Lane
}

func (ll laneLogger) Printf(format string, v ...any) {
	ll.l.Infof(format, v...)
}

func main() {
	cl := cmdline.NewCommandLine()

	cl.RegisterCommand(
		mainHandler,
		"~?Opens an interactive console on a running JS8Call instance.",
		"[--host <string-host>]?Controller host. The default is localhost.",
		"[--port <int-port>]?Controller TCP API port. The default is 2442.",
		"[--timeout <int-ms>]?Request timeout in milliseconds. The default is 5000.",
		"[--trace]?Enable trace logging",
	)

	args := os.Args[1:]
	if err := cl.Process(args); err != nil {
		cl.Help(err, "js8ctl", args)
		os.Exit(1)
	}
}

func mainHandler(args cmdline.Values) error {
	l := lane.NewLogLane(context.Background())
	debug := args["--trace"].(bool)
	if !debug {
		l.SetLogLevel(lane.LogLevelInfo)
	}

	host := defaultHost
	if args["--host"].(bool) {
		host = args["host"].(string)
	}
	port := defaultPort
	if p := args["port"].(int); p != 0 {
		port = p
	}
	timeout := js8.DefaultRequestTimeout
	if ms := args["ms"].(int); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	client := js8.NewClient(js8.Options{
		Host:           host,
		Port:           port,
		RequestTimeout: timeout,
		Logger:         laneLogger{l},
		Debug:          debug,
	})
	defer client.Close()

	editor := newLineEditor(os.Stdin)
	defer editor.Close()

	con := newConsole(l, client, editor.Output(), timeout)
	defer con.watch()()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err := client.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("cannot reach JS8Call at %s: %w", client.Address(), err)
	}

	fmt.Printf("Connected to JS8Call at %s. Type help for commands.\n", client.Address())
	return repl(con, editor)
}

func repl(con *console, editor *lineEditor) error {
	for {
		line, err := editor.ReadLine(prompt)
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		err = con.execute(line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			con.printf("error: %v\n", err)
		}
	}
}
