// Package reqflow orchestrates HTTP calls on the client side: it merges
// layered configuration, runs lifecycle hooks, and decorates a pluggable
// transport with caching, idempotent de-duplication and retries.
//
// # Overview
//
// A Client owns a GlobalConfig, a default Adapter (the transport) and a
// default Cache. Callers build a RequestInstance from a RequestConfig and
// call Send. Most consumers should construct a client through the
// flowclient package, which wires the HTTP adapter, cache backends and
// logging from configuration.
//
//	import (
//	  "context"
//	  "log"
//	  "time"
//
//	  "github.com/fivetwenty-io/reqflow/pkg/flowclient"
//	  "github.com/fivetwenty-io/reqflow/pkg/reqflow"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := flowclient.NewWithBaseURL(ctx, "https://api.example.com")
//	  if err != nil { log.Fatal(err) }
//
//	  resp, err := cli.NewRequest("GET", "/users/1",
//	    reqflow.WithCachePolicy(reqflow.CachePolicy{TTL: reqflow.Duration(time.Minute)}),
//	  ).Send(ctx)
//	  if err != nil { log.Fatal(err) }
//	  _ = resp
//	}
//
// # Configuration precedence
//
// Adapter defaults sit below the global configuration, which sits below the
// per-call configuration. Headers and query parameters merge key by key;
// policies are taken whole from the most specific layer that sets them;
// hooks merge slot by slot.
//
// # Hooks
//
// OnBefore may replace the configuration that is dispatched. Exactly one of
// OnSuccess or OnError runs, and OnFinally always runs last.
//
// # Caching and idempotency
//
// With a CachePolicy, fresh entries are served without dispatching and a
// miss is refilled by a single dispatch however many callers race for it.
// With an IdempotentPolicy, concurrent and later callers sharing a key join
// one dispatch and receive its outcome until the record's TTL passes. Failed
// idempotent dispatches are not replayed.
//
// # Composition
//
// SerialComposer runs steps in order and stops at the first failure;
// ParallelComposer runs them concurrently and reports every outcome at its
// input position.
package reqflow
