// Package integration defines how the ops core talks about the remote
// systems it drives: Sapo Core, Sapo Marketplace and the Shopee merchant
// API. It holds the two session kinds, the captured Credentials, the
// CredentialProvider port a browser login implements, and the non-blocking
// EnsureResult returned while a login runs. Adapters live under
// internal/infrastructure.
package integration
