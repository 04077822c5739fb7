package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bjaus/fanout"
	"github.com/bjaus/fanout/internal/chat"
	"github.com/bjaus/fanout/internal/config"
	"github.com/bjaus/fanout/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// maxFrame bounds a single input line.
const maxFrame = 1 << 20

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fanout: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		inputPath  string
	)

	cmd := &cobra.Command{
		Use:   "fanout",
		Short: "Dispatch newline-delimited chat events to handlers and plugins",
		Long: `fanout reads OneBot-style JSON events, one per line, parses each into
typed messages and runs the handler chain of every message. Replies are
written to stdout.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}

			in := io.Reader(os.Stdin)
			if inputPath != "" && inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.InitLogger("fanout", cmd.ErrOrStderr(), cfg.LogLevel)
			return run(ctx, cfg, logger, in, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "read frames from this file instead of stdin")
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, in io.Reader, out io.Writer) error {
	metrics := observability.NewMetrics()

	opts := append(metrics.Hooks(),
		observability.ParseLogging(),
		fanout.WithConcurrency(cfg.Concurrency),
	)
	relay, err := chat.NewRelay(chat.Options{
		Blocked:      cfg.Blocked,
		KeyPath:      cfg.KeyPath,
		EchoPrefix:   cfg.EchoPrefix,
		Mention:      cfg.Mention,
		MentionReply: cfg.MentionReply,
		Welcome:      cfg.Welcome,
	}, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Error().Err(err).Msg("close relay")
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(metrics)}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics shutdown")
			}
		}()
	}

	console := chat.NewConsole(out)
	frames := readFrames(ctx, in)

	logger.Info().Int("concurrency", cfg.Concurrency).Msg("relay started")
	var handled int
	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("frames", handled).Msg("shutting down")
			return nil
		case f, ok := <-frames:
			if !ok {
				logger.Info().Int("frames", handled).Int("chats", relay.Stats().Total()).Msg("input closed")
				return nil
			}
			if f.err != nil {
				return fmt.Errorf("read input: %w", f.err)
			}
			handled++

			frameCtx, id := observability.WithFrame(ctx, logger)
			frameCtx = metrics.StartFrame(frameCtx)
			err := relay.Handle(frameCtx, console, f.raw)
			metrics.RecordFrame(frameCtx, err)
			if err != nil {
				logger.Warn().Err(err).Str("frame", id).Msg("frame failed")
			}
		}
	}
}

func metricsMux(m *observability.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

type frame struct {
	raw []byte
	err error
}

// readFrames emits one frame per non-empty line of in until EOF or ctx is
// done.
func readFrames(ctx context.Context, in io.Reader) <-chan frame {
	ch := make(chan frame)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxFrame)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			select {
			case ch <- frame{raw: append([]byte(nil), line...)}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case ch <- frame{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}
