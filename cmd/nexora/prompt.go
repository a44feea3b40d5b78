// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter reads answers from the command's input. Passwords are read
// without echo when the input is a terminal.
type prompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	in := cmd.InOrStdin()
	return &prompter{in: in, out: cmd.ErrOrStderr(), reader: bufio.NewReader(in)}
}

// Line prompts for a visible answer.
func (p *prompter) Line(label string) (string, error) {
	_, _ = fmt.Fprintf(p.out, "%s: ", label)
	return p.readLine()
}

// Password prompts for a hidden answer.
func (p *prompter) Password(label string) (string, error) {
	_, _ = fmt.Fprintf(p.out, "%s: ", label)
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.out)
		if err != nil {
			return "", oops.Code("PROMPT_FAILED").Wrap(err)
		}
		return string(b), nil
	}
	return p.readLine()
}

func (p *prompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("PROMPT_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
