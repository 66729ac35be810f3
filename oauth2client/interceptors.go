package oauth2client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds
// the token for key as "authorization: <scheme> <token>" metadata.
//
// If the call fails with codes.Unauthenticated the cached token is dropped,
// a new one is requested and the call is repeated once. If token fetch fails,
// the RPC call is aborted with an error.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(tm.UnaryClientInterceptor(oauth2client.ClientKey("billing"))),
//	)
func (tm *TokenManager) UnaryClientInterceptor(key TokenKey) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		token, err := tm.GetToken(ctx, key, false)
		if err != nil {
			return fmt.Errorf("oauth2client: failed to get token: %w", err)
		}

		err = invoker(withAuthorization(ctx, token), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		tm.logger.DebugContext(ctx, "rpc unauthenticated, refreshing token", "client", key.Client, "method", method)
		if delErr := tm.DeleteToken(ctx, key); delErr != nil {
			tm.logger.WarnContext(ctx, "failed to drop rejected token", "client", key.Client, "error", delErr)
		}
		token, refreshErr := tm.GetToken(ctx, key, true)
		if refreshErr != nil {
			// The original rejection is what the caller should see.
			return err
		}
		return invoker(withAuthorization(ctx, token), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that adds
// the token for key to the outgoing metadata. Streams are not retried.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithStreamInterceptor(tm.StreamClientInterceptor(oauth2client.ClientKey("billing"))),
//	)
func (tm *TokenManager) StreamClientInterceptor(key TokenKey) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		token, err := tm.GetToken(ctx, key, false)
		if err != nil {
			return nil, fmt.Errorf("oauth2client: failed to get token: %w", err)
		}

		return streamer(withAuthorization(ctx, token), desc, cc, method, opts...)
	}
}

func withAuthorization(ctx context.Context, token *AccessToken) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", token.AuthorizationHeader())
}
