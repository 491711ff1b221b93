package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

type line struct {
	text string
	err  error
}

// ConsoleSource reads utterances line by line from a reader and writes
// replies to a writer. Reading happens on a background goroutine so
// Next can honor its context; a line read while nobody waits is kept for
// the next call.
type ConsoleSource struct {
	out    io.Writer
	prompt string

	once  sync.Once
	in    *bufio.Scanner
	lines chan line
}

// NewConsoleSource returns a source over in and out. prompt, when set,
// is written before each read.
func NewConsoleSource(in io.Reader, out io.Writer, prompt string) *ConsoleSource {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &ConsoleSource{
		out:    out,
		prompt: prompt,
		in:     sc,
		lines:  make(chan line),
	}
}

// Name implements Source.
func (s *ConsoleSource) Name() string { return "console" }

func (s *ConsoleSource) read() {
	for s.in.Scan() {
		s.lines <- line{text: s.in.Text()}
	}
	err := s.in.Err()
	if err == nil {
		err = io.EOF
	}
	s.lines <- line{err: err}
	close(s.lines)
}

// Next implements Source.
func (s *ConsoleSource) Next(ctx context.Context) (string, error) {
	s.once.Do(func() { go s.read() })

	if s.prompt != "" {
		fmt.Fprint(s.out, s.prompt)
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

// Reply implements Source.
func (s *ConsoleSource) Reply(_ context.Context, text string) error {
	_, err := fmt.Fprintln(s.out, text)
	return err
}
