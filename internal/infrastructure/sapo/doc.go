// Package sapo keeps the two authenticated Sapo sessions alive and exposes the
// Core and Marketplace APIs as typed operations.
//
// Sapo has no machine-friendly authentication. Credentials come from a
// CredentialProvider (a headless browser in production) and are persisted
// through a TokenStore. The Manager guarantees that at most one login runs per
// session; every other caller either waits for it or, through TryEnsure,
// learns that a login is in progress.
//
// Requests go through Manager.Do, which treats 401, 403 and suspiciously short
// 200 bodies as authentication failures: the session is invalidated,
// re-established and the request retried a bounded number of times.
package sapo
