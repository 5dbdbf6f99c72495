// Package service implements the application's use cases, orchestrating
// domain entities, stores, and the job queue. It is the boundary consumed
// by the HTTP layer.
package service
