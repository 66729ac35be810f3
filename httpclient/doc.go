// Package httpclient authenticates outgoing HTTP requests with tokens from an
// oauth2client.TokenManager.
//
// OAuth2Transport attaches "<type> <token>" and, for DPoP clients, a proof bound
// to the request and the token. When the resource server answers with a DPoP
// nonce challenge the request is re-sent once with the new nonce; when it
// answers 401 the cached token is dropped, a fresh one is fetched and the
// request is re-sent once. A request is sent at most three times.
//
// Transports compose as a pipeline of Stage values (Chain, StageFunc), so
// headers, logging or retries can be layered around the OAuth2 stage. Builder
// wires all of this together with TLS/mTLS, timeouts and redirect handling.
//
// # Quick Start
//
//	client, err := httpclient.NewBuilder().
//	    WithTokenManager(tm, "billing").
//	    WithStages(httpclient.SetHeader("User-Agent", "billing-worker/1.0")).
//	    WithTLS("/path/to/ca.crt", "", "").
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://api.example.com/data")
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewOAuth2Transport(tm, oauth2client.ClientKey("billing"), nil)
//	client := &http.Client{Transport: transport}
//
// Request bodies are replayed through Request.GetBody when set, otherwise they
// are buffered before the first send.
package httpclient
