// Package async supervises background goroutines.
//
// A Group ties long-running tasks (the seed file watcher, the connection
// pool sampler) to one context, recovers panics, logs failures through the
// structured logger and waits for the tasks on shutdown.
package async
