// Package server exposes the admission engine over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	admissionv1 "github.com/ppiankov/chatgate/api/admission/v1"
	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/gate"
	"github.com/ppiankov/chatgate/internal/report"
)

// Config holds gRPC server configuration.
type Config struct {
	Listen string
	Logger *slog.Logger
}

// Server implements the chatgate.v1.Admission service.
type Server struct {
	engine     *gate.Engine
	recorder   *report.Recorder
	cfg        Config
	logger     *slog.Logger
	grpcServer *grpc.Server
}

// New creates a gRPC server over engine. recorder may be nil.
func New(cfg Config, engine *gate.Engine, recorder *report.Recorder) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:     engine,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		grpcServer: grpc.NewServer(),
	}
	admissionv1.RegisterAdmissionServer(s.grpcServer, s)
	return s
}

// Serve starts the gRPC server on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Decide implements the Decide RPC. Policy denials are successful
// responses; a storage failure is codes.Unavailable.
func (s *Server) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := admissionv1.DecideRequestFrom(in)
	if req.Address == "" {
		return nil, status.Error(codes.InvalidArgument, "address is required")
	}

	reqID := uuid.NewString()
	v, err := s.engine.Decide(ctx, req.Address, req.SessionID)
	if s.recorder != nil {
		s.recorder.Record(reqID, req.SessionID, v, err)
	}
	if err != nil {
		s.logger.Error("admission check failed", "request_id", reqID, "error", err)
		if errors.Is(err, gate.ErrStorage) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	return admissionv1.DecideResponse{
		Allowed:     v.Allowed,
		Reason:      string(v.Reason),
		Message:     v.Message,
		Fingerprint: string(v.Fingerprint),
		Escalated:   v.Escalated,
		Degraded:    v.Degraded,
	}.Struct()
}

// Lookup implements the Lookup RPC.
func (s *Server) Lookup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := admissionv1.LookupRequestFrom(in)

	var fp fingerprint.Fingerprint
	switch {
	case req.Fingerprint != "":
		fp = fingerprint.Fingerprint(req.Fingerprint)
		if !fingerprint.Valid(fp) {
			return nil, status.Errorf(codes.InvalidArgument, "malformed fingerprint %q", req.Fingerprint)
		}
	case req.Address != "":
		fp = fingerprint.Hash(req.Address)
	default:
		return nil, status.Error(codes.InvalidArgument, "address or fingerprint is required")
	}

	return SnapshotResponse(s.engine.Inspect(ctx, fp)).Struct()
}

// SnapshotResponse converts a gate snapshot to its wire form.
func SnapshotResponse(snap gate.Snapshot) admissionv1.LookupResponse {
	resp := admissionv1.LookupResponse{
		Fingerprint: string(snap.Fingerprint),
		Degraded:    snap.Degraded,
	}
	if snap.Ban != nil {
		resp.Banned = true
		resp.BanReason = snap.Ban.Reason
		resp.BannedAt = snap.Ban.BannedAt.UnixMilli()
		for _, e := range snap.Ban.Evidence {
			resp.Evidence = append(resp.Evidence, admissionv1.Evidence{Type: e.Type, Message: e.Message})
		}
	}
	if snap.Session != nil {
		resp.HasSession = true
		resp.LastRequest = snap.Session.LastRequest
		resp.SessionIDs = snap.Session.SessionIDs
		resp.CreatedAt = snap.Session.CreatedAt
	}
	return resp
}
