// Package worker consumes jobs from the task queue.
//
// A Registry maps job types to Handlers. It is filled during bootstrap,
// either directly or through a Loader that builds handlers from a
// Container of shared dependencies. Candidates that fail to build are
// logged and skipped, so their job type stays unregistered and its jobs
// fail with ErrHandlerNotFound.
//
// A Worker dequeues one job at a time, runs its handler with the job's
// timeout, and then completes, retries or fails the job:
//
//   - success: the job is completed and QUEUE_JOB_COMPLETED is published.
//   - error with attempts left: the job is delayed by its backoff and
//     retried later.
//   - error on the last attempt, a Permanent error, or no handler: the job
//     is failed and QUEUE_JOB_FAILED is published exactly once.
//
// A Pool runs several workers concurrently over the same queue.
package worker
