package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Overmuse/alpaca/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// healthCmd queries the health service of a running stream command. It needs no
// account credentials, so it replaces the root's PersistentPreRunE.
func healthCmd(a *app) *cobra.Command {
	var (
		addr    string
		watch   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the stream health of a running stream command",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			closer, err := logging.Setup(logging.Config{
				Level:  a.logLevel,
				Format: a.logFormat,
				Out:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			a.logCloser = closer
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return checkHealth(ctx, cmd.OutOrStdout(), addr, watch, timeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC address of the stream command")
	cmd.Flags().BoolVar(&watch, "watch", false, "Print every status change until interrupted")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Timeout of a single check")
	return cmd
}

// checkHealth prints the serving status of the stream. Without watch it returns an
// error unless the stream is serving.
func checkHealth(ctx context.Context, out io.Writer, addr string, watch bool, timeout time.Duration) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	req := &grpc_health_v1.HealthCheckRequest{Service: healthService}

	if !watch {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, err := client.Check(checkCtx, req)
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		fmt.Fprintln(out, resp.GetStatus())
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return fmt.Errorf("stream is %s", resp.GetStatus())
		}
		return nil
	}

	stream, err := client.Watch(ctx, req)
	if err != nil {
		return fmt.Errorf("health watch: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Info().Msg("health stream has closed")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("health watch: %w", err)
		}
		fmt.Fprintln(out, resp.GetStatus())
	}
}
