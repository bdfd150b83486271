// Package output renders courier responses and run summaries.
//
// Printer writes a single response as console text or JSON. Reporter writes
// the aggregate summary of a repeated run together with threshold results.
// Both honour the no-color setting shared through fatih/color.
package output
