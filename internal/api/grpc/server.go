// Package grpcapi serves the insight API over gRPC. Messages are
// google.protobuf.Struct documents shaped like the REST JSON bodies.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/schema"
	"crm-insight-service/internal/service/insight"
	"crm-insight-service/internal/service/transcription"
)

const ServiceName = "crm.insight.v1.InsightService"

const (
	methodAsk         = "/" + ServiceName + "/Ask"
	methodGetSnapshot = "/" + ServiceName + "/GetSnapshot"
	methodListFormats = "/" + ServiceName + "/ListFormats"
)

// InsightServer is the server API for InsightService.
type InsightServer interface {
	Ask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListFormats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Responder answers a question from a snapshot.
type Responder interface {
	Answer(ctx context.Context, question string, snap analytics.Snapshot) insight.Answer
}

type Server struct {
	responder Responder
	analytics analytics.Source
	validator *schema.Validator
}

// NewServer creates the InsightService implementation.
func NewServer(responder Responder, source analytics.Source, validator *schema.Validator) *Server {
	if validator == nil {
		validator = schema.New(0)
	}
	return &Server{responder: responder, analytics: source, validator: validator}
}

// Register adds InsightService to g.
func Register(g grpc.ServiceRegistrar, s InsightServer) {
	g.RegisterService(&serviceDesc, s)
}

// Ask expects {"text": string, "analyticsData"?: object} and returns
// {"answer", "type", "source", "provider"}.
func (s *Server) Ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	text := strings.TrimSpace(fields["text"].GetStringValue())

	var snap analytics.Snapshot
	if data := fields["analyticsData"].GetStructValue(); data != nil {
		if err := fromStruct(data, &snap); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "analyticsData: %v", err)
		}
	} else {
		got, err := s.analytics.Snapshot(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "analytics snapshot: %v", err)
		}
		snap = got
	}

	if err := s.validator.ValidateInsight(text, snap); err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			return nil, status.Error(codes.InvalidArgument, ve.Error())
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ans := s.responder.Answer(ctx, text, snap)
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return structpb.NewStruct(map[string]any{
		"answer":   ans.Content,
		"type":     string(ans.Kind),
		"source":   ans.Source,
		"provider": ans.Provider,
	})
}

// GetSnapshot returns the current analytics snapshot.
func (s *Server) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.analytics.Snapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "analytics snapshot: %v", err)
	}
	out, err := toStruct(snap)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	return out, nil
}

// ListFormats returns {"supportedFormats": [...]}.
func (s *Server) ListFormats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	formats := transcription.SupportedFormats()
	list := make([]any, 0, len(formats))
	for _, f := range formats {
		list = append(list, map[string]any{
			"mimeType":    f.MIMEType,
			"extension":   f.Extension,
			"description": f.Description,
		})
	}
	return structpb.NewStruct(map[string]any{"supportedFormats": list})
}

// toStruct round-trips v through JSON so struct tags decide the field names.
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

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func askHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InsightServer).Ask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAsk}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InsightServer).Ask(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InsightServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetSnapshot}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InsightServer).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listFormatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InsightServer).ListFormats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListFormats}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InsightServer).ListFormats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InsightServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ask", Handler: askHandler},
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "ListFormats", Handler: listFormatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crm/insight/v1/insight.proto",
}

// Client calls InsightService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Ask sends a question. snap may be nil to use the server's analytics source.
func (c *Client) Ask(ctx context.Context, text string, snap *analytics.Snapshot) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{"text": structpb.NewStringValue(text)}
	if snap != nil {
		data, err := toStruct(snap)
		if err != nil {
			return nil, err
		}
		fields["analyticsData"] = structpb.NewStructValue(data)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodAsk, &structpb.Struct{Fields: fields}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSnapshot fetches the server's analytics snapshot.
func (c *Client) GetSnapshot(ctx context.Context) (analytics.Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetSnapshot, &emptypb.Empty{}, out); err != nil {
		return analytics.Snapshot{}, err
	}
	var snap analytics.Snapshot
	err := fromStruct(out, &snap)
	return snap, err
}

// ListFormats fetches the supported audio formats.
func (c *Client) ListFormats(ctx context.Context) ([]transcription.Format, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListFormats, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var body struct {
		SupportedFormats []transcription.Format `json:"supportedFormats"`
	}
	err := fromStruct(out, &body)
	return body.SupportedFormats, err
}
