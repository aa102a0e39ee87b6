// Package console runs the interactive question loop on a pair of streams.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/fabfab/docbot/chat"
)

// Prompt is written before every line is read.
const Prompt = "Prompt: "

const maxLineBytes = 1 << 20

var exitTokens = map[string]struct{}{
	"quit": {},
	"q":    {},
	"exit": {},
}

// Asker answers one question and remembers the turn.
type Asker interface {
	Ask(ctx context.Context, question string) (chat.Response, error)
}

type Options struct {
	In     io.Reader
	Out    io.Writer
	Logger *log.Logger
	// ContinueOnError reports a failed turn and keeps reading instead of
	// ending the loop.
	ContinueOnError bool
}

type Loop struct {
	asker           Asker
	in              io.Reader
	out             io.Writer
	logger          *log.Logger
	continueOnError bool
}

func NewLoop(asker Asker, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	in := opts.In
	if in == nil {
		in = strings.NewReader("")
	}

	return &Loop{
		asker:           asker,
		in:              in,
		out:             out,
		logger:          logger,
		continueOnError: opts.ContinueOnError,
	}
}

// IsExit reports whether a trimmed line ends the conversation. Matching is
// case-sensitive.
func IsExit(line string) bool {
	_, ok := exitTokens[line]
	return ok
}

type readResult struct {
	line string
	err  error
	eof  bool
}

// Run reads lines until an exit token or end of input, both of which return
// nil. A failed turn is returned unless ContinueOnError is set.
func (l *Loop) Run(ctx context.Context) error {
	requests := make(chan struct{})
	lines := make(chan readResult)
	go l.read(requests, lines)
	defer close(requests)

	for {
		fmt.Fprint(l.out, Prompt)

		var res readResult
		select {
		case <-ctx.Done():
			fmt.Fprintln(l.out)
			return ctx.Err()
		case requests <- struct{}{}:
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(l.out)
			return ctx.Err()
		case res = <-lines:
		}

		if res.err != nil {
			return fmt.Errorf("read input: %w", res.err)
		}
		if res.eof {
			fmt.Fprintln(l.out)
			return nil
		}

		question := strings.TrimSpace(res.line)
		if question == "" {
			continue
		}
		if IsExit(question) {
			return nil
		}

		resp, err := l.asker.Ask(ctx, question)
		if err != nil {
			if !l.continueOnError {
				return err
			}
			fmt.Fprintf(l.out, "error: %v\n", err)
			continue
		}

		fmt.Fprintln(l.out, resp.Answer)
		l.logSources(resp.Sources)
	}
}

// read scans one line per request so that Run can give up on a blocked read
// when the context ends.
func (l *Loop) read(requests <-chan struct{}, lines chan<- readResult) {
	scanner := bufio.NewScanner(l.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for range requests {
		var res readResult
		if scanner.Scan() {
			res.line = scanner.Text()
		} else if err := scanner.Err(); err != nil {
			res.err = err
		} else {
			res.eof = true
		}
		select {
		case lines <- res:
		case _, ok := <-requests:
			if !ok {
				return
			}
		}
	}
}

func (l *Loop) logSources(sources []chat.Source) {
	for idx, source := range sources {
		l.logger.Printf("source %d: %s (%s) score %.3f", idx+1, source.Title, source.Path, source.Score)
	}
}
