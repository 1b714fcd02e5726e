// Package oauth manages the OAuth2 token lifecycle for a desktop
// integration against a QuickBooks-style accounting API: the authorization
// code flow, token refresh with rotation, revocation, and the CSRF state
// binding the browser round trip.
//
// The Service facade is the intended entry point. It resolves credentials
// lazily through a prioritized chain (secret store over environment
// variables over static values), caches tokens in a pluggable TokenStore,
// and wraps refresh traffic in a resilience pipeline with a wall-clock
// timeout, a circuit breaker, and retry with exponential backoff.
//
//	svc := oauth.NewService(oauth.ServiceOptions{Logger: logger})
//	url, err := svc.AuthorizationURL(ctx)
//	// ... user authorizes in the browser, provider calls back ...
//	token, err := svc.HandleCallback(ctx, code, state, realmID)
//	// from here on:
//	token, err = svc.Token(ctx) // valid token, refreshed as needed
package oauth
