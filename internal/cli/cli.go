package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"panokit/internal/codec/magick"
	"panokit/internal/config"
	"panokit/internal/grpcserver"
	"panokit/internal/pipeline"
	"panokit/internal/server"
	"panokit/internal/storage"

	"github.com/google/uuid"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, cfg *config.Config, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, cfg *config.Config, log *slog.Logger) error {
	if real, ok := pipe.(*pipeline.Pipeline); ok {
		return server.Serve(ctx, addr, store, real, cfg, log)
	}
	return fmt.Errorf("pipeline does not support server operation")
}

func defaultGRPC(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, cfg *config.Config, log *slog.Logger) error {
	if real, ok := pipe.(*pipeline.Pipeline); ok {
		return grpcserver.New(real, store, cfg, log).Serve(ctx, addr)
	}
	return fmt.Errorf("pipeline does not support server operation")
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	grpcFn   serverFunc
	// magickVersion reports the linked ImageMagick release.
	magickVersion func() string
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Root{
		cfg:           cfg,
		log:           logger,
		store:         store,
		serveFn:       defaultServe,
		grpcFn:        defaultGRPC,
		magickVersion: magick.Version,
	}
	if pl != nil {
		r.pipeline = pl
	}
	return r
}

// enqueueAndWait submits job and blocks until its result arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	if r.pipeline == nil {
		return pipeline.Result{}, fmt.Errorf("pipeline unavailable")
	}
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
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
	if r.pipeline == nil {
		return fmt.Errorf("pipeline unavailable")
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func (r *Root) requireStore() error {
	if r.store == nil {
		return fmt.Errorf("lens database unavailable (paths.database_path)")
	}
	return nil
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
