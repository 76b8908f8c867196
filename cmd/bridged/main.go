package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/nativebridge/agent"
	"github.com/guseggert/nativebridge/agent/input"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "bridged",
		Usage: "the bridge server that runs commands for clients in a chroot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "The Unix socket to listen on. It is recreated on start.",
				Value:   agent.DefaultSocketPath,
				EnvVars: []string{"BRIDGE_SOCKET"},
			},
			&cli.StringFlag{
				Name:    "status-socket",
				Usage:   "An optional Unix socket serving /heartbeat and /sessions over HTTP.",
				EnvVars: []string{"BRIDGE_STATUS_SOCKET"},
			},
			&cli.StringFlag{
				Name:    "touch-device",
				Usage:   "The touchscreen event device for tap and swipe, as listed by getevent -pl.",
				Value:   input.DefaultDevice,
				EnvVars: []string{"BRIDGE_TOUCH_DEVICE"},
			},
			&cli.IntFlag{
				Name:  "max-connections",
				Usage: "The maximum number of concurrent sessions, 0 for unbounded.",
				Value: 0,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			level := zapcore.InfoLevel
			if ctx.Bool("debug") {
				level = zapcore.DebugLevel
			}

			server, err := agent.NewServer(
				agent.WithLogger(logger),
				agent.WithLogLevel(level),
				agent.WithSocketPath(ctx.String("socket")),
				agent.WithStatusSocket(ctx.String("status-socket")),
				agent.WithInputDevice(ctx.String("touch-device")),
				agent.WithMaxConnections(ctx.Int("max-connections")),
			)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				server.Stop()
			}()

			return server.Run()
		},
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
