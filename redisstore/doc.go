// Package redisstore stores oauth2client cache entries in Redis so several
// processes can share tokens.
//
// Keys are "<prefix><cache key>" and carry a TTL equal to the entry's
// effective expiry. Entries without expiry are stored without TTL.
//
//	backend, err := redisstore.New(ctx, redisstore.Options{Addrs: []string{"localhost:6379"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	tm := oauth2client.NewTokenManager(registry, oauth2client.WithBackend(backend))
package redisstore
