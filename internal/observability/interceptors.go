package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"crm-insight-service/internal/observability/metrics"
)

// UnaryServerInterceptor records metrics and an access log line per unary call.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls such as health watches.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observe(m *metrics.Metrics, method, kind string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.Code(err)
	m.RecordGRPCRequest(method, code.String(), elapsed.Seconds())

	ev := accessLogEvent(method, code)
	ev.Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", elapsed).
		Msg("gRPC call")
}

// Probes and reflection are noisy, so they only show up at debug level.
// Server-side failures are warnings; client mistakes stay at info.
func accessLogEvent(method string, code codes.Code) *zerolog.Event {
	switch {
	case strings.HasPrefix(method, "/grpc.health.") || strings.HasPrefix(method, "/grpc.reflection."):
		return log.Debug()
	case code == codes.Internal || code == codes.Unavailable || code == codes.Unknown || code == codes.DeadlineExceeded:
		return log.Warn()
	default:
		return log.Info()
	}
}
