package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/effectus/progressive-go/config"
	"github.com/effectus/progressive-go/metrics"
	"github.com/effectus/progressive-go/progression"
)

var runCmd = &cobra.Command{
	Use:   "run [document]",
	Short: "Run the engine, reading interactions from stdin",
	Long: `Loads the document and evaluates rules every --interval. Each stdin line is a JSON
command:

  {"interaction": "save"}
  {"event": "signup", "payload": {"plan": "pro"}}
  {"reset": "editor"}
  {"metric": "conversions", "value": 1}
  {"tick": true}

With --watch the document is reloaded whenever it changes on disk.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := documentPath(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runEngine(ctx, cmd.OutOrStdout(), cmd.InOrStdin(), path)
	},
}

func runEngine(ctx context.Context, out io.Writer, in io.Reader, path string) error {
	doc, err := config.Load(path)
	if err != nil {
		return err
	}

	subject := opts.Subject
	if subject == "" {
		subject = uuid.NewString()
		logger.Info("generated subject key", zap.String("subject", subject))
	}

	controller := progression.New(
		progression.WithLogger(logger),
		progression.WithSubjectKey(subject),
		progression.WithTickInterval(opts.TickInterval),
	)
	defer controller.Close()

	writer := newEventWriter(out)
	controller.Subscribe(writer.Handle)

	group, ctx := errgroup.WithContext(ctx)

	if opts.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(registry)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		controller.Subscribe(collector.Handle)
		group.Go(func() error {
			return serveMetrics(ctx, opts.MetricsAddr, registry)
		})
	}

	if err := controller.Load(ctx, doc); err != nil {
		return err
	}

	if opts.Watch {
		group.Go(func() error {
			return watchDocument(ctx, path, func(doc *config.Document) error {
				return controller.Load(ctx, doc)
			})
		})
	}

	// Scan blocks on stdin, so the reader stays outside the group and a signal still ends the run.
	go func() {
		err := readLines(ctx, in, func(line []byte) error {
			cmd, err := decodeCommand(line)
			if err != nil {
				logger.Warn("ignoring malformed command", zap.ByteString("line", line), zap.Error(err))
				return nil
			}
			if err := apply(controller, cmd); err != nil {
				logger.Warn("command failed", zap.ByteString("line", line), zap.Error(err))
			}
			return nil
		})
		if err != nil {
			logger.Warn("reading commands", zap.Error(err))
		}
		logger.Debug("command input closed")
	}()

	group.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// watchDocument reloads path whenever it is written, created or renamed into place. The
// parent directory is watched so editors that replace the file are still seen. Invalid
// documents are logged and the running configuration is kept.
func watchDocument(ctx context.Context, path string, reload func(*config.Document) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	logger.Info("watching document", zap.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !shouldReload(event, abs) {
				continue
			}
			doc, err := config.Load(abs)
			if err != nil {
				logger.Warn("keeping previous configuration", zap.String("path", abs), zap.Error(err))
				continue
			}
			if err := reload(doc); err != nil {
				logger.Warn("reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("configuration reloaded", zap.String("path", abs), zap.String("op", event.Op.String()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func shouldReload(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

var errUnknownCommand = errors.New("unknown command")

func decodeCommand(line []byte) (command, error) {
	var cmd command
	if err := jsonUnmarshalStrict(line, &cmd); err != nil {
		return command{}, fmt.Errorf("%w: %v", errUnknownCommand, err)
	}
	return cmd, nil
}
