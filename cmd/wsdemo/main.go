// Command wsdemo is a small CLI exercising pkg/wsadapter end to end: dial
// connects to a WebSocket server and echoes stdin lines as text messages;
// serve runs a one-shot echo server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/sandpiper-labs/wsproto/pkg/wsadapter"
	"github.com/sandpiper-labs/wsproto/pkg/wsproto"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsdemo",
		Usage: "dial or serve a WebSocket connection using wsproto",
		Commands: []*cli.Command{
			dialCommand(),
			serveCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsdemo: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func dialCommand() *cli.Command {
	return &cli.Command{
		Name:  "dial",
		Usage: "connect to a WebSocket server and relay stdin lines as text messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Required: true, Usage: "ws:// or wss:// URI to connect to"},
			&cli.StringFlag{Name: "origin", Usage: "Origin header to send"},
			&cli.StringFlag{Name: "subprotocol", Usage: "subprotocol to offer"},
			&cli.IntFlag{Name: "max-size", Value: wsproto.DefaultMaxSize, Usage: "maximum reassembled message size"},
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger(cmd.Bool("pretty-log"))
			opts := wsproto.ClientOptions{
				Origin:  cmd.String("origin"),
				MaxSize: int(cmd.Int("max-size")),
			}
			if sp := cmd.String("subprotocol"); sp != "" {
				opts.Subprotocols = []string{sp}
			}

			conn, err := wsadapter.DialContext(ctx, cmd.String("url"), opts, log)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer conn.Close(wsproto.CloseNormalClosure, "")

			go func() {
				for {
					kind, data, err := conn.ReadMessage(ctx)
					if err != nil {
						log.Info().Err(err).Msg("read loop ending")
						return
					}
					log.Info().Str("kind", kind.String()).Int("bytes", len(data)).Msg("message received")
					fmt.Println(string(data))
				}
			}()

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if err := conn.WriteText(scanner.Bytes()); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
			return scanner.Err()
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "accept one TCP connection, perform the handshake, and echo messages back",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "localhost:0", Usage: "address to listen on"},
			&cli.StringFlag{Name: "subprotocol", Usage: "subprotocol to accept, if offered"},
			&cli.IntFlag{Name: "max-size", Value: wsproto.DefaultMaxSize, Usage: "maximum reassembled message size"},
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger(cmd.Bool("pretty-log"))
			ln, err := net.Listen("tcp", cmd.String("addr"))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer ln.Close()
			log.Info().Str("addr", ln.Addr().String()).Msg("listening")

			nc, err := ln.Accept()
			if err != nil {
				return fmt.Errorf("accept: %w", err)
			}

			opts := wsproto.ServerOptions{MaxSize: int(cmd.Int("max-size"))}
			if sp := cmd.String("subprotocol"); sp != "" {
				opts.Subprotocols = []string{sp}
			}

			conn, err := wsadapter.Accept(nc, opts, log)
			if err != nil {
				return fmt.Errorf("accept handshake: %w", err)
			}
			defer conn.Close(wsproto.CloseNormalClosure, "")

			for {
				kind, data, err := conn.ReadMessage(ctx)
				if err != nil {
					log.Info().Err(err).Msg("connection ended")
					return nil
				}
				log.Info().Str("kind", kind.String()).Int("bytes", len(data)).Msg("echoing message")
				var writeErr error
				if kind == wsproto.KindText {
					writeErr = conn.WriteText(data)
				} else {
					writeErr = conn.WriteBinary(data)
				}
				if writeErr != nil {
					return fmt.Errorf("echo: %w", writeErr)
				}
			}
		},
	}
}
