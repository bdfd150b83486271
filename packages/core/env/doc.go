// Package env resolves {{name}} placeholders in request templates.
//
// Placeholders are looked up, in order, as:
//   - {{$NAME}}: the process environment
//   - {{fn(args)}}: a generator function such as uuid() or timestamp()
//   - {{name}}: a variable set from the command line or a .env file
//
// Unresolved placeholders are left in place and reported through the
// resolver's logger.
package env
