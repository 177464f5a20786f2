// Package async provides a bounded worker pool for background tasks that
// must not leak: webhook delivery chains run on it so retry waits never
// occupy a request-handling goroutine, and so every in-flight chain can be
// drained at shutdown.
package async
