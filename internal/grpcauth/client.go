package grpcauth

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"authcore.dev/internal/audit"
	"authcore.dev/internal/auth"
)

// Credentials attach an API key and, when Token returns one, a bearer token
// to every outgoing call.
type Credentials struct {
	APIKey string
	Token  func(ctx context.Context) (string, error)
	// Insecure allows the credentials over plaintext connections.
	Insecure bool
}

func (c Credentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	md := map[string]string{}
	if c.APIKey != "" {
		md[APIKeyKey] = c.APIKey
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			md[AuthorizationKey] = "Bearer " + token
		}
	}
	return md, nil
}

func (c Credentials) RequireTransportSecurity() bool { return !c.Insecure }

// Dial opens a client connection. Without options it uses plaintext transport.
func Dial(target string, creds Credentials, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithPerRPCCredentials(creds))
	return grpc.NewClient(target, opts...)
}

// OutgoingContext forwards the request id of ctx to the next hop.
func OutgoingContext(ctx context.Context) context.Context {
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		return metadata.AppendToOutgoingContext(ctx, RequestIDKey, rid)
	}
	return ctx
}

// FromStatus turns a status produced by Status back into an auth error so
// callers can branch with errors.Is. Other errors pass through.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.Domain != Domain {
			continue
		}
		return &auth.Error{
			Kind:    auth.Kind(info.Reason),
			Reason:  auth.Reason(info.Metadata["reason"]),
			Message: "auth: " + info.Reason,
			Cause:   errors.New(st.Message()),
		}
	}
	return err
}
