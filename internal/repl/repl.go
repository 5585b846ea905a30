// Package repl is a line console on the prompt plane of a session.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"trackway/internal/proto"
	"trackway/internal/session"
)

// ExitCommand ends the console.
const ExitCommand = ":exit"

type Session interface {
	Subscribe() *session.Subscription
	SendPrompt(ctx context.Context, text string) error
}

// Run sends every non-empty input line as a prompt message and prints every
// inbound prompt message. It returns nil on ExitCommand, end of input, or
// session termination.
func Run(ctx context.Context, s Session, in io.Reader, out io.Writer) error {
	sub := s.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			msg, err := sub.Recv(gctx)
			if err != nil {
				if errors.Is(err, session.ErrTerminated) || gctx.Err() != nil {
					return nil
				}
				return err
			}
			if msg.Type != proto.Prompt {
				continue
			}
			if _, err := fmt.Fprintln(out, string(msg.Data)); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					select {
					case err := <-scanErr:
						return err
					default:
						return nil
					}
				}
				line = strings.TrimSpace(line)
				switch line {
				case "":
					continue
				case ExitCommand:
					return nil
				}
				if err := s.SendPrompt(gctx, line); err != nil {
					if errors.Is(err, session.ErrTerminated) {
						return nil
					}
					return fmt.Errorf("send prompt: %w", err)
				}
			}
		}
	})
	return g.Wait()
}
