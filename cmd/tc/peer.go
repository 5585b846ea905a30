package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trackway/internal/config"
	"trackway/internal/engine/auth"
	"trackway/internal/peer"
	"trackway/internal/transport"
)

func peerCmd() *cobra.Command {
	var listen, path string
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Accept one agent and drive it from stdin",
		Long: `Peer is the remote end of a session for development. It waits for an agent, verifies its
token, prints the task announcement and then sends every stdin line as a code fragment,
printing the result. ":exports" asks for the capability list, ":prompt <text>" talks on the
prompt plane and end of input says bye.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			opts := peer.Options{
				Verifier:         peerVerifier(cfg),
				HandshakeTimeout: cfg.Session.HandshakeTimeout,
				Logger:           logger,
			}
			if opts.Verifier == nil {
				return errors.New("no token configured: set server.token or peer.jwt_secret")
			}
			addr := firstNonEmpty(listen, cfg.Peer.Listen)
			return servePeer(cmd.Context(), addr, firstNonEmpty(path, cfg.Peer.Path), opts, stdinDriver(os.Stdin, os.Stdout), logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address: host:port for websockets, or tcp:// / unix://")
	cmd.Flags().StringVar(&path, "path", "", "websocket path")
	return cmd
}

func peerVerifier(cfg *config.Config) auth.Verifier {
	var chain auth.Chain
	if cfg.Server.Token != "" {
		chain = append(chain, auth.Static(cfg.Server.Token))
	}
	if cfg.Peer.JWTSecret != "" {
		chain = append(chain, auth.JWT{Secret: cfg.Peer.JWTSecret})
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// servePeer accepts a single agent on addr and runs drive against it.
func servePeer(ctx context.Context, addr, path string, opts peer.Options, drive func(context.Context, *peer.Conn) error, logger *zap.Logger) error {
	if strings.HasPrefix(addr, "tcp://") || strings.HasPrefix(addr, "unix://") {
		ln, err := transport.Listen(addr)
		if err != nil {
			return err
		}
		defer ln.Close()
		stop := context.AfterFunc(ctx, func() { ln.Close() })
		defer stop()
		logger.Info("waiting for agent", zap.String("addr", addr))
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c, err := peer.Accept(ctx, transport.NewFramed(nc), opts)
		if err != nil {
			return err
		}
		return drive(ctx, c)
	}

	var once sync.Once
	done := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle(path, peer.Handler(opts, func(ctx context.Context, c *peer.Conn) error {
		served := false
		once.Do(func() { served = true })
		if !served {
			_ = c.Bye(ctx)
			return errors.New("peer already driving an agent")
		}
		err := drive(ctx, c)
		done <- err
		return err
	}))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	logger.Info("waiting for agent", zap.String("url", "ws://"+ln.Addr().String()+path))
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stdinDriver(in io.Reader, out io.Writer) func(context.Context, *peer.Conn) error {
	return func(ctx context.Context, c *peer.Conn) error {
		ann, err := c.Task(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "// task %s (%s): %s\n%s\n", ann.TaskName, c.Principal().Subject, ann.TaskDescription, ann.TaskContext)
		sc := bufio.NewScanner(in)
		for {
			fmt.Fprint(out, "> ")
			if !sc.Scan() {
				break
			}
			line := strings.TrimSpace(sc.Text())
			switch {
			case line == "":
				continue
			case line == ":exports":
				data, err := c.Exports(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			case strings.HasPrefix(line, ":prompt "):
				reply, err := c.Prompt(ctx, strings.TrimPrefix(line, ":prompt "))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
			default:
				res, err := c.Exec(ctx, line)
				var re *peer.RemoteError
				if errors.As(err, &re) {
					fmt.Fprintln(out, "error:", re.Reason)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(res))
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
		return c.Bye(ctx)
	}
}
