// Package grpcauth runs the auth guard chain for gRPC calls and maps auth
// failures to gRPC status codes.
package grpcauth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"authcore.dev/internal/audit"
	"authcore.dev/internal/auth"
)

// Domain is reported in ErrorInfo details.
const Domain = "authcore.dev"

// Metadata keys read by the interceptor.
const (
	AuthorizationKey = "authorization"
	APIKeyKey        = "x-api-key"
	RequestIDKey     = "x-request-id"
)

// Rule describes what a method requires. The zero Rule requires an API key
// and a bearer token.
type Rule struct {
	Public     bool
	APIKeyOnly bool
	Abilities  []auth.Ability
}

// Interceptor authenticates unary and stream calls.
type Interceptor struct {
	svc    *auth.Service
	rules  map[string]Rule
	logger *slog.Logger
}

// Option configures Interceptor.
type Option func(*Interceptor)

// WithRule sets the rule for a full method name such as "/pkg.Service/Method".
// A trailing "/*" matches every method of a service.
func WithRule(fullMethod string, r Rule) Option {
	return func(i *Interceptor) { i.rules[fullMethod] = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an interceptor. The gRPC health service is public.
func New(svc *auth.Service, opts ...Option) *Interceptor {
	i := &Interceptor{
		svc: svc,
		rules: map[string]Rule{
			"/grpc.health.v1.Health/*": {Public: true},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Interceptor) rule(fullMethod string) Rule {
	if r, ok := i.rules[fullMethod]; ok {
		return r
	}
	if idx := strings.LastIndex(fullMethod, "/"); idx > 0 {
		if r, ok := i.rules[fullMethod[:idx]+"/*"]; ok {
			return r
		}
	}
	return Rule{}
}

func (i *Interceptor) chain(r Rule) auth.Guard {
	guards := []auth.Guard{i.svc.APIKeyGuard()}
	if !r.APIKeyOnly {
		guards = append(guards, i.svc.BearerGuard())
		if len(r.Abilities) > 0 {
			guards = append(guards, i.svc.RequireAbilities(r.Abilities...))
		}
	}
	return auth.Chain(guards...)
}

// authenticate returns ctx enriched with the principal and API key.
func (i *Interceptor) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if rid := first(md, RequestIDKey); rid != "" {
		ctx = audit.WithRequestID(ctx, rid)
	}
	r := i.rule(fullMethod)
	if r.Public {
		return ctx, nil
	}
	rc, err := i.chain(r)(ctx, auth.RequestContext{
		Authorization: first(md, AuthorizationKey),
		APIKey:        first(md, APIKeyKey),
	})
	if err != nil {
		if auth.IsRetryable(err) {
			i.logger.ErrorContext(ctx, "grpc auth unavailable", slog.String("method", fullMethod), slog.Any("error", err))
		}
		return ctx, Status(err)
	}
	return auth.ContextWithRequest(ctx, rc), nil
}

// Unary returns the unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// Code maps an auth error kind to a gRPC code.
func Code(err error) codes.Code {
	switch auth.KindOf(err) {
	case auth.KindInvalidCredentials, auth.KindTokenInvalid, auth.KindAPIKeyInvalid,
		auth.KindTwoFactorRequired, auth.KindInvalidTwoFactorCode, auth.KindChallengeExpiredOrConsumed:
		return codes.Unauthenticated
	case auth.KindForbidden:
		return codes.PermissionDenied
	case auth.KindUnavailable:
		return codes.Unavailable
	case auth.KindInvalidInput:
		return codes.InvalidArgument
	case auth.KindNotFound:
		return codes.NotFound
	case auth.KindConflict:
		return codes.Aborted
	}
	return codes.Internal
}

// Status converts err to a gRPC status error carrying an ErrorInfo with the
// kind as reason. The message never includes the cause, and reasons that
// hint at tampering are withheld.
func Status(err error) error {
	if err == nil {
		return nil
	}
	kind := auth.KindOf(err)
	if kind == "" {
		return status.Error(codes.Internal, "internal error")
	}
	st := status.New(Code(err), string(kind))
	info := &errdetails.ErrorInfo{Reason: string(kind), Domain: Domain}
	if reason := auth.PublicReason(err); reason != "" {
		info.Metadata = map[string]string{"reason": string(reason)}
	}
	withDetails, derr := st.WithDetails(info)
	if derr != nil {
		return st.Err()
	}
	return withDetails.Err()
}
