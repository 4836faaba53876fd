package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Confirmer asks the operator a yes/no question. Anything but an explicit
// yes is a no.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

type interactiveConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// Interactive prompts on out and reads one answer line per question from in.
// "y" and "yes" (any case, surrounding spaces ignored) confirm.
func Interactive(in io.Reader, out io.Writer) Confirmer {
	return &interactiveConfirmer{in: bufio.NewReader(in), out: out}
}

func (c *interactiveConfirmer) Confirm(prompt string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

type autoConfirmer bool

// Auto answers every question with answer, for --yes and non-interactive runs.
func Auto(answer bool) Confirmer { return autoConfirmer(answer) }

func (a autoConfirmer) Confirm(string) (bool, error) { return bool(a), nil }
