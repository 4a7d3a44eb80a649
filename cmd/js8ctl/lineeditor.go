package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".js8ctl_history"
	historySize     = 500
)

// lineEditor reads console input with history on a terminal and falls back
// to plain line scanning for pipes and scripts
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

func newLineEditor(in *os.File) *lineEditor {
	if !term.IsTerminal(int(in.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(in)}
	}

	config := &readline.Config{
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	}
	if home, err := os.UserHomeDir(); err == nil {
		config.HistoryFile = filepath.Join(home, historyFileName)
	}

	rl, err := readline.NewFromConfig(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using plain input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(in)}
	}
	return &lineEditor{rl: rl}
}

// Output is where asynchronous event lines go so they do not garble the prompt
func (le *lineEditor) Output() io.Writer {
	if le.rl != nil {
		return le.rl
	}
	return os.Stdout
}

// ReadLine returns io.EOF on end of input or Ctrl-C
func (le *lineEditor) ReadLine(prompt string) (string, error) {
	if le.rl == nil {
		fmt.Print(prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *lineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}
