package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"sessionlink/internal/app"
	"sessionlink/internal/connection"
)

const shutdownTimeout = 30 * time.Second

var errExhausted = errors.New("reconnect attempts exhausted")

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open the session channel and relay stdin",
	Long: `Connects to the session and keeps the channel alive until interrupted.

Each stdin line is one JSON object with a "type" field and is sent through the
link, queued while disconnected. The line "reconnect" asks the server to
resynchronize this client.`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("journal", "", "record connection events in this sqlite file")
	connectCmd.Flags().Int("debug-port", 0, "serve health, metrics and control on 127.0.0.1:PORT")
}

// Sender is the part of the manager the stdin pump drives
type Sender interface {
	Send(msg interface{}) bool
	RequestReconnection() bool
}

func runConnect(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("interrupted, shutting down")
		case <-application.Done():
		}
		cancel()
		return nil
	})
	g.Go(func() error {
		return pump(gctx, lines, application.Manager(), logger)
	})

	runErr := g.Wait()
	// Close moves a failed manager to closed, so read it first
	exhausted := application.Manager().State() == connection.StateFailed

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}

	if exhausted {
		return errExhausted
	}
	return runErr
}

// scanLines feeds r line by line into out and closes it at EOF. It is not
// cancellable; a blocked stdin read is abandoned at exit.
func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// pump relays lines until ctx ends or the input closes. Bad lines are
// logged and skipped.
func pump(ctx context.Context, lines <-chan string, sender Sender, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.Debug("input closed")
				return nil
			}
			reconnect, msg, err := parseLine(line)
			switch {
			case err != nil:
				logger.Warn("skipping input line", zap.Error(err))
			case reconnect:
				sender.RequestReconnection()
			case msg != nil:
				if !sender.Send(msg) {
					logger.Debug("message queued")
				}
			}
		}
	}
}

// parseLine returns a message to send, the reconnect command, or nothing
// for blank lines.
func parseLine(line string) (bool, map[string]interface{}, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil, nil
	case "reconnect":
		return true, nil, nil
	}

	var msg map[string]interface{}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &msg); err != nil {
		return false, nil, err
	}
	return false, msg, nil
}
