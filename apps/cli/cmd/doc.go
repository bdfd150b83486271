// Package cmd implements the courier CLI commands using Cobra.
//
// Available commands:
//   - fetch: Send a request through a session and print the response
//   - curl: Print the cURL equivalent of a request without sending it
//   - credentials: Manage the persistent credential store
//   - completion: Generate shell completion scripts
//   - version: Show courier version information
//
// Requests come from a URL, a YAML template or a pasted cURL command.
// fetch supports retries, downloads, multipart uploads, event streams,
// repeated runs with latency thresholds and watch mode.
package cmd
