// Package grpcclient builds gRPC client connections that authenticate with
// tokens from an oauth2client.TokenManager.
//
// The unary and stream interceptors of the manager attach the token as
// "authorization" metadata; a unary call answered with Unauthenticated is
// retried once with a freshly issued token.
//
// # Features
//
//   - Shared TokenManager per registered client (WithTokenManager) or a
//     single-client manager built from credentials (WithOAuth2)
//   - TLS 1.2+ by default; optional custom CA and mTLS
//   - Additional dial options via WithDialOptions
//
// # Quick Start
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("server.example.com:9090").
//	    WithTokenManager(tm, "inventory").
//	    WithTLS("/path/to/ca.crt", "", "", "server.example.com").
//	    Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := pb.NewYourServiceClient(conn)
//
// # TLS Behavior
//
// TLS is enabled by default with system CAs and TLS 1.2 minimum. WithTLS allows supplying a custom
// root CA and optional client cert/key for mTLS; both cert and key must be provided together.
package grpcclient
