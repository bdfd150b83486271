// Package http provides the network engine courier runs on top of net/http.
//
// It wraps the standard library's http package with additional features:
//   - Tasks that start suspended and report progress as events
//   - Redirects surfaced to the coordinator before they are followed
//   - Basic and Digest authentication challenges
//   - TLS server trust challenges
//   - File downloads with resumable tokens
//   - Upload progress reporting
package http
