package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"panostitch/internal/config"
	"panostitch/internal/grpcserver"
	"panostitch/internal/pipeline"
	"panostitch/internal/server"
	"panostitch/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, cfg *config.Config, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

// defaultServe runs the HTTP API and the gRPC endpoint until ctx ends or
// either of them fails.
func defaultServe(ctx context.Context, cfg *config.Config, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpSrv := server.NewServer(cfg.Server.Addr, store, pipe, cfg.Server.JWTSecret, log)
	grpcSrv := grpcserver.New(cfg.Server.GRPCAddr, store, log)

	errs := make(chan error, 2)
	go func() { errs <- httpSrv.Start(ctx) }()
	go func() { errs <- grpcSrv.Start(ctx) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the shared state behind the command tree.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
	}
}

func (r *Root) stdout() io.Writer {
	return os.Stdout
}

func (r *Root) printf(format string, args ...any) {
	fmt.Fprintf(r.stdout(), format, args...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{Job: job}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{Job: job}, errors.New("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID() string {
	return uuid.NewString()
}
