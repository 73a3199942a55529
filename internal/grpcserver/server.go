package grpcserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"panokit/internal/config"
	"panokit/internal/pipeline"
	"panokit/internal/storage"
	"panokit/internal/tasks"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "panokit.Stitcher"

// StitcherServer is the server API of the Stitcher service. Payloads are
// free-form structs so the service needs no generated code.
type StitcherServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Project(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Job(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(StitcherServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StitcherServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StitcherServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the Stitcher service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StitcherServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", StitcherServer.Submit)},
		{MethodName: "Project", Handler: unaryHandler("Project", StitcherServer.Project)},
		{MethodName: "Job", Handler: unaryHandler("Job", StitcherServer.Job)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "panokit/stitcher.proto",
}

// Server implements StitcherServer on top of the pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *storage.Store
	cfg      *config.Config
	log      *slog.Logger
	health   *health.Server
}

// New creates a Stitcher service.
func New(pipe *pipeline.Pipeline, store *storage.Store, cfg *config.Config, log *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{pipeline: pipe, store: store, cfg: cfg, log: log, health: health.NewServer()}
}

// Register installs the Stitcher and health services on gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
	)
	s.Register(gs)
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down gRPC server...")
		s.health.Shutdown()
		gs.GracefulStop()
	}()
	s.log.Info("gRPC server starting", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func field(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// toStruct converts arbitrary JSON-shaped data through its JSON encoding,
// which flattens typed slices that structpb cannot take directly.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Submit queues a job. Fields: type, project, output, options.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobType(field(in, "type")),
		InputPath: field(in, "project"),
		Output:    field(in, "output"),
	}
	switch job.Type {
	case pipeline.JobStitch, pipeline.JobFindPoints, pipeline.JobOptimalROI, pipeline.JobInfo:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown job type %q", job.Type)
	}
	if job.InputPath == "" {
		return nil, status.Error(codes.InvalidArgument, "missing project")
	}
	if opts := in.GetFields()["options"].GetStructValue(); opts != nil {
		job.Options = opts.AsMap()
	}
	if err := s.pipeline.Submit(job); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.log.Info("job submitted", "job", job.ID, "type", job.Type, "transport", "grpc")
	return structpb.NewStruct(map[string]any{"id": job.ID, "status": "queued"})
}

// Project summarises the project file named by the path field.
func (s *Server) Project(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	path := field(in, "path")
	if path == "" {
		return nil, status.Error(codes.InvalidArgument, "missing path")
	}
	p, err := tasks.LoadProject(path, s.log)
	if errors.Is(err, os.ErrNotExist) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return toStruct(pipeline.ProjectInfo(p, s.cfg.Stacks.EVTolerance))
}

// Job reports the recorded state of the job named by the id field.
func (s *Server) Job(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := field(in, "id")
	rec, err := s.store.Run(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.Errorf(codes.NotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := map[string]any{"run": rec}
	if meta, err := s.store.RunMeta(id); err == nil {
		out["meta"] = meta
	}
	return toStruct(out)
}

// Client calls the Stitcher service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Submit queues a job and returns its id.
func (c *Client) Submit(ctx context.Context, jobType, project, output string, options map[string]any) (string, error) {
	req := map[string]any{"type": jobType, "project": project, "output": output}
	if options != nil {
		req["options"] = options
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return "", err
	}
	out, err := c.call(ctx, "Submit", in)
	if err != nil {
		return "", err
	}
	return field(out, "id"), nil
}

// Project fetches a project summary.
func (c *Client) Project(ctx context.Context, path string) (map[string]any, error) {
	in, _ := structpb.NewStruct(map[string]any{"path": path})
	out, err := c.call(ctx, "Project", in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Job fetches the recorded state of a job.
func (c *Client) Job(ctx context.Context, id string) (map[string]any, error) {
	in, _ := structpb.NewStruct(map[string]any{"id": id})
	out, err := c.call(ctx, "Job", in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
