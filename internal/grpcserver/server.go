package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"panostitch/internal/storage"
)

const defaultRecent = 20

// Server hosts the health and jobs services.
type Server struct {
	addr   string
	store  *storage.Store
	log    *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

// New builds a server reading job state from store.
func New(addr string, store *storage.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:   addr,
		store:  store,
		log:    log,
		health: health.NewServer(),
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.ChainUnaryInterceptor(s.logCalls),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	RegisterJobsServer(s.grpc, s)
	s.SetServing(true)
	return s
}

// SetServing flips the health status of the server and the jobs service.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(JobsServiceName, st)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	s.log.Info("grpc server starting", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the server unhealthy and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("grpc call", "method", info.FullMethod, "code", status.Code(err).String(), "duration_ms", time.Since(start).Milliseconds())
	return resp, err
}

// jobDetail mirrors the HTTP job detail payload.
type jobDetail struct {
	storage.JobRecord
	Meta       map[string]any          `json:"meta,omitempty"`
	Alignments []storage.PairAlignment `json:"alignments,omitempty"`
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := in.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "job id is required")
	}
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load job: %v", err)
	}
	detail := jobDetail{JobRecord: rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		detail.Meta = meta
	}
	if aligns, err := s.store.Alignments(id); err == nil {
		detail.Alignments = aligns
	}

	var m map[string]any
	if err := jsonRoundTrip(detail, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode job: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode job: %v", err)
	}
	return out, nil
}

func (s *Server) Recent(ctx context.Context, in *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	limit := int(in.GetValue())
	if limit <= 0 {
		limit = defaultRecent
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list jobs: %v", err)
	}
	list := []any{}
	if len(recs) > 0 {
		if err := jsonRoundTrip(recs, &list); err != nil {
			return nil, status.Errorf(codes.Internal, "encode jobs: %v", err)
		}
	}
	out, err := structpb.NewList(list)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode jobs: %v", err)
	}
	return out, nil
}

// jsonRoundTrip turns typed records into the plain maps structpb accepts.
func jsonRoundTrip(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
