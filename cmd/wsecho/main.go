// Command wsecho is a demo CLI exercising both of this module's two
// connection-handling styles: a blocking single-connection client (dial)
// and a poller-driven, multiplexed server (serve).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/coregx/wsstream/websocket"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsecho",
		Usage: "RFC 6455 WebSocket echo client and server",
		Commands: []*cli.Command{
			serveCommand(),
			dialCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// echoHandler implements websocket.Handler, echoing every data message
// back to its sender and logging lifecycle events.
type echoHandler struct {
	log zerolog.Logger
}

func (h *echoHandler) Opened(c *websocket.Conn) {
	h.log.Info().Str("conn", c.ID().String()).Str("remote", c.RemoteAddr().String()).Msg("opened")
}

func (h *echoHandler) Received(c *websocket.Conn, msg *websocket.Message) {
	if !msg.IsData() {
		return
	}
	if err := c.Write(msg.Type(), msg.Data); err != nil {
		h.log.Warn().Err(err).Str("conn", c.ID().String()).Msg("echo write failed")
	}
}

func (h *echoHandler) Closed(c *websocket.Conn, code websocket.CloseCode, reason string) {
	h.log.Info().Str("conn", c.ID().String()).Stringer("code", code).Str("reason", reason).Msg("closed")
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a multiplexed echo server behind a readiness poller",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
			&cli.StringFlag{Name: "path", Value: "/ws", Usage: "upgrade endpoint path"},
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger(cmd.Bool("pretty-log"))
			mgr := websocket.NewManager(log)
			defer mgr.CloseAll(websocket.CloseGoingAway, "server shutting down")

			handler := &echoHandler{log: log}

			http.HandleFunc(cmd.String("path"), func(w http.ResponseWriter, r *http.Request) {
				conn, err := websocket.Upgrade(w, r, nil)
				if err != nil {
					log.Warn().Err(err).Msg("upgrade failed")
					return
				}
				if err := mgr.Add(conn, handler); err != nil {
					log.Warn().Err(err).Msg("manager add failed")
					conn.Close()
				}
			})

			go func() {
				if err := mgr.Run(); err != nil {
					log.Error().Err(err).Msg("manager run exited")
				}
			}()

			addr := cmd.String("addr")
			log.Info().Str("addr", addr).Str("path", cmd.String("path")).Msg("listening")
			return http.ListenAndServe(addr, nil)
		},
	}
}

func dialCommand() *cli.Command {
	return &cli.Command{
		Name:  "dial",
		Usage: "connect to a WebSocket endpoint and echo a line of text",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Required: true, Usage: "ws:// or wss:// URL to dial"},
			&cli.StringFlag{Name: "message", Value: "hello from wsecho", Usage: "text message to send"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "dial and handshake timeout"},
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger(cmd.Bool("pretty-log"))

			dialCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			conn, err := websocket.Dial(dialCtx, cmd.String("url"), &websocket.DialOptions{Logger: log})
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer conn.Close()

			if err := conn.WriteText(cmd.String("message")); err != nil {
				return fmt.Errorf("write: %w", err)
			}

			got, err := conn.ReadText()
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}

			fmt.Println(got)
			return conn.CloseWithCode(websocket.CloseNormalClosure, "done")
		},
	}
}
