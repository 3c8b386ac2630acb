package crypt

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/bar-archiver/bar/internal/barerrors"
	"golang.org/x/term"
)

// PasswordSource is one entry in the §4.2 priority chain: "(a) config
// default, (b) server-set default, (c) per-job, (d) interactive
// prompt, (e) PASSWORD\n on stdin in batch mode".
type PasswordSource int

const (
	PasswordSourceConfigDefault PasswordSource = iota
	PasswordSourceServerDefault
	PasswordSourcePerJob
	PasswordSourceInteractive
	PasswordSourceStdinBatch
)

// Resolver walks the priority chain until a non-empty password is
// found. Each field is optional; Interactive/Batch only fire when no
// higher-priority password was configured.
type Resolver struct {
	ConfigDefault  string
	ServerDefault  string
	PerJob         string
	Interactive    bool // prompt on the controlling terminal
	Batch          bool // read "PASSWORD\n" from stdin
	promptTerminal io.ReadWriter
	stdin          io.Reader
}

// Resolve returns the first non-empty password in priority order, or
// ErrPasswordRequired if every source is empty/disabled. An empty
// resolved password is itself an error when a cipher algorithm is
// configured (§4.2: "A password is rejected if empty and a crypt
// algorithm is set"), which callers enforce by passing requireNonEmpty.
func (r *Resolver) Resolve(requireNonEmpty bool) (string, PasswordSource, error) {
	for _, c := range []struct {
		pw     string
		source PasswordSource
	}{
		{r.ConfigDefault, PasswordSourceConfigDefault},
		{r.ServerDefault, PasswordSourceServerDefault},
		{r.PerJob, PasswordSourcePerJob},
	} {
		if c.pw != "" {
			return c.pw, c.source, nil
		}
	}
	if r.Interactive {
		pw, err := r.prompt()
		if err != nil {
			return "", 0, err
		}
		if pw != "" || !requireNonEmpty {
			return pw, PasswordSourceInteractive, nil
		}
	}
	if r.Batch {
		pw, err := r.readStdinPassword()
		if err != nil {
			return "", 0, err
		}
		if pw != "" || !requireNonEmpty {
			return pw, PasswordSourceStdinBatch, nil
		}
	}
	if requireNonEmpty {
		return "", 0, barerrors.New(barerrors.KindPassword, "crypt", ErrPasswordRequired)
	}
	return "", 0, nil
}

func (r *Resolver) prompt() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", barerrors.Errorf(barerrors.KindPassword, "crypt", "interactive password requested but stdin is not a terminal")
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", barerrors.New(barerrors.KindPassword, "crypt", err)
	}
	return string(b), nil
}

func (r *Resolver) readStdinPassword() (string, error) {
	in := r.stdin
	if in == nil {
		in = os.Stdin
	}
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		return "", barerrors.New(barerrors.KindPassword, "crypt", ErrPasswordRequired)
	}
	line := sc.Text()
	const prefix = "PASSWORD"
	if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
		return line[len(prefix):], nil
	}
	return line, nil
}
