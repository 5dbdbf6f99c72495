// Package api implements the HTTP handlers exposed to clients. It is glue
// around the job service: request parsing, owner extraction, and error
// mapping; all business rules live in the service and task layers.
package api
