package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// doGRPC calls grpc.health.v1.Health/Check. SERVING maps to 200, anything else to 503.
func (e *Executor) doGRPC(ctx context.Context, ep domain.EndpointProbe) (Response, error) {
	target, service, secure, err := parseGRPCTarget(ep.URL)
	if err != nil {
		return Response{}, err
	}

	conn, err := e.grpcConn(target, secure)
	if err != nil {
		return Response{}, fmt.Errorf("grpc dial: %w", err)
	}

	if len(ep.Headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(ep.Headers))
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		st := status.Convert(err)
		return Response{}, fmt.Errorf("grpc health check: %s: %s", st.Code(), st.Message())
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		return Response{}, fmt.Errorf("render response: %w", err)
	}

	code := http.StatusOK
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		code = http.StatusServiceUnavailable
	}
	return Response{StatusCode: code, Body: body}, nil
}

func (e *Executor) grpcConn(target string, secure bool) (*grpc.ClientConn, error) {
	key := target
	if secure {
		key = "tls://" + target
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if conn, ok := e.conns[key]; ok {
		return conn, nil
	}

	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, err
	}
	e.conns[key] = conn
	return conn, nil
}

// parseGRPCTarget splits grpc://host:port/service into its parts. grpcs:// enables TLS.
func parseGRPCTarget(raw string) (target, service string, secure bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("invalid grpc url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "grpc":
	case "grpcs":
		secure = true
	default:
		return "", "", false, fmt.Errorf("invalid grpc url %q: scheme must be grpc or grpcs", raw)
	}
	if u.Host == "" {
		return "", "", false, fmt.Errorf("invalid grpc url %q: missing host", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), secure, nil
}
