// Package task manages background job queuing, processing, and lifecycle.
// It provides the worker pool that pulls job references off the queue,
// claims them through the job store's conditional transition, and runs the
// processing pipeline for the job's kind, with retry and failure isolation
// so a crashed or failing job never blocks unrelated work.
package task
