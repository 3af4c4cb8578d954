package proto

import (
	"context"
	"errors"
	"fmt"
	"net"

	iface "FaceVerify/interface"
	"FaceVerify/logger"
	"FaceVerify/monitor"
	"FaceVerify/verify"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Verifier is the part of verify.Verifier the service needs.
type Verifier interface {
	Verify(ctx context.Context) (*verify.Result, error)
	State() verify.State
	Last() (*verify.Result, error)
	Model() iface.Model
}

type Server struct {
	Verifier Verifier
}

var _ VerifyServiceServer = (*Server)(nil)

func (s *Server) Verify(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	res, err := s.Verifier.Verify(ctx)
	if err != nil {
		logger.Log().Warn("gRPC verification failed", zap.Error(err))
		return nil, toStatus(err)
	}
	return structpb.NewStruct(ResultFields(res))
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	fields := map[string]interface{}{
		"state": s.Verifier.State().String(),
	}
	last, lastErr := s.Verifier.Last()
	fields["label"] = verify.Label(last, lastErr)
	if last != nil {
		fields["last"] = ResultFields(last)
	}
	if m := s.Verifier.Model(); m != nil {
		cfg := m.CheckConfig()
		layers := make([]interface{}, len(cfg.Layers))
		for i, l := range cfg.Layers {
			layers[i] = l
		}
		fields["model"] = map[string]interface{}{
			"manifest":  cfg.ManifestPath,
			"embedding": cfg.EmbeddingPath,
			"width":     cfg.InputWidth,
			"height":    cfg.InputHeight,
			"channels":  cfg.Channels,
			"layers":    layers,
			"useGPU":    cfg.UseGPU,
		}
	}
	return structpb.NewStruct(fields)
}

// ResultFields flattens a result into values structpb accepts.
func ResultFields(res *verify.Result) map[string]interface{} {
	scores := make([]interface{}, len(res.Scores))
	for i, s := range res.Scores {
		scores[i] = float64(s)
	}
	refs := make([]interface{}, len(res.References))
	for i, r := range res.References {
		refs[i] = r
	}
	skipped := make([]interface{}, len(res.Skipped))
	for i, r := range res.Skipped {
		skipped[i] = r
	}
	return map[string]interface{}{
		"id":         res.ID,
		"scores":     scores,
		"references": refs,
		"skipped":    skipped,
		"detections": res.Detections,
		"ratio":      res.Ratio,
		"verified":   res.Verified,
		"error":      res.Error,
		"startedAt":  res.StartedAt.UnixMilli(),
		"durationMs": res.Duration.Milliseconds(),
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, verify.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, verify.ErrEmptyReferenceSet):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// NewGRPCServer registers the verify service and the standard health service.
func NewGRPCServer(v Verifier, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterVerifyServiceServer(s, &Server{Verifier: v})
	hs := health.NewServer()
	hs.SetServingStatus(VerifyServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

func StartGRPCServer(addr int, v Verifier) (*grpc.Server, error) {
	port := fmt.Sprintf(":%d", addr)
	lis, err := net.Listen("tcp", port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	s := NewGRPCServer(v)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("port", port))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
