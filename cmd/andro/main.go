package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/guseggert/nativebridge/agent"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultSwipeDurationMS = 300

func main() {
	app := &cli.App{
		Name:  "andro",
		Usage: "run commands on the Android host from inside the chroot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "The bridge server's Unix socket.",
				Value:   agent.DefaultClientSocketPath,
				EnvVars: []string{"ANDRO_SOCKET"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:            "exec",
				Usage:           "Run a program to completion and print its output.",
				ArgsUsage:       "<program> [args...]",
				SkipFlagParsing: true,
				Action: withClient(func(ctx context.Context, c *cli.Context, client *agent.Client) error {
					if c.NArg() < 1 {
						return errors.New("exec requires a program")
					}
					out, err := client.Exec(ctx, c.Args().First(), c.Args().Tail())
					if err != nil {
						return err
					}
					fmt.Fprint(c.App.Writer, out)
					return nil
				}),
			},
			{
				Name:            "stream",
				Usage:           "Run a program and print its output as it runs.",
				ArgsUsage:       "<program> [args...]",
				SkipFlagParsing: true,
				Action: withClient(func(ctx context.Context, c *cli.Context, client *agent.Client) error {
					if c.NArg() < 1 {
						return errors.New("stream requires a program")
					}
					return client.Stream(ctx, c.Args().First(), c.Args().Tail(), c.App.Writer)
				}),
			},
			{
				Name:            "tap",
				Usage:           "Tap the screen.",
				ArgsUsage:       "<x> <y>",
				SkipFlagParsing: true,
				Action: withClient(func(ctx context.Context, c *cli.Context, client *agent.Client) error {
					coords, err := parseCoords(c.Args().Slice(), 2)
					if err != nil {
						return err
					}
					return client.Tap(ctx, coords[0], coords[1])
				}),
			},
			{
				Name:            "swipe",
				Usage:           "Swipe across the screen.",
				ArgsUsage:       "<x1> <y1> <x2> <y2> [duration_ms]",
				SkipFlagParsing: true,
				Action: withClient(func(ctx context.Context, c *cli.Context, client *agent.Client) error {
					args := c.Args().Slice()
					if len(args) != 4 && len(args) != 5 {
						return fmt.Errorf("swipe takes 4 or 5 arguments, got %d", len(args))
					}
					coords, err := parseCoords(args[:4], 4)
					if err != nil {
						return err
					}
					duration := uint64(defaultSwipeDurationMS)
					if len(args) == 5 {
						duration, err = strconv.ParseUint(args[4], 10, 64)
						if err != nil {
							return fmt.Errorf("parsing duration %q: %w", args[4], err)
						}
					}
					return client.Swipe(ctx, coords[0], coords[1], coords[2], coords[3], duration)
				}),
			},
			{
				Name:  "status",
				Usage: "Show the server's session counters and last activity from its status socket.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "status-socket",
						Usage:    "The server's status socket, as passed to bridged --status-socket.",
						EnvVars:  []string{"ANDRO_STATUS_SOCKET"},
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					logger := zap.NewNop()
					if c.Bool("debug") {
						l, err := zap.NewDevelopment()
						if err != nil {
							return fmt.Errorf("building logger: %w", err)
						}
						logger = l
					}
					statusClient := agent.NewStatusClient(logger.Sugar(), c.String("status-socket"))

					sessions, err := statusClient.Sessions(c.Context)
					if err != nil {
						return cli.Exit(fmt.Sprintf("Failed to query status: %s", err), 1)
					}
					heartbeat, err := statusClient.Heartbeat(c.Context)
					if err != nil {
						return cli.Exit(fmt.Sprintf("Failed to query status: %s", err), 1)
					}
					lastActivity := heartbeat.LastActivity
					if lastActivity == "" {
						lastActivity = "never"
					}
					fmt.Fprintf(c.App.Writer, "Active sessions: %d\nTotal sessions: %d\nLast activity: %s\n", sessions.Active, sessions.Total, lastActivity)
					return nil
				},
			},
			{
				Name:  "ping",
				Usage: "Check that the server is alive.",
				Action: withClient(func(ctx context.Context, c *cli.Context, client *agent.Client) error {
					if err := client.Ping(ctx); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Pong! Server is alive.")
					return nil
				}),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

type action func(ctx context.Context, c *cli.Context, client *agent.Client) error

// withClient builds a client from the global flags and maps its errors to user-facing messages and exit codes.
func withClient(f action) cli.ActionFunc {
	return func(c *cli.Context) error {
		opts := []agent.ClientOption{}
		if c.Bool("debug") {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			opts = append(opts, agent.WithClientLogger(logger))
		}
		socketPath := c.String("socket")
		client := agent.NewClient(socketPath, opts...)

		err := f(c.Context, c, client)

		var remoteErr *agent.RemoteError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(c.App.ErrWriter, "\nExiting...")
			return nil
		case errors.As(err, &remoteErr):
			return cli.Exit("Remote Error: "+remoteErr.Message, 1)
		case errors.Is(err, agent.ErrConnect):
			return cli.Exit(fmt.Sprintf("Failed to connect to %s. Is the server running?", socketPath), 1)
		case errors.Is(err, agent.ErrNoResponse):
			return cli.Exit("Server did not provide a response.", 1)
		default:
			return cli.Exit(err.Error(), 1)
		}
	}
}

func parseCoords(args []string, n int) ([]int32, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d coordinates, got %d", n, len(args))
	}
	coords := make([]int32, n)
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing coordinate %q: %w", a, err)
		}
		coords[i] = int32(v)
	}
	return coords, nil
}
