package store

// Semaphore bounds how many archival uploads may be in flight to S3 at
// once.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore with the given concurrency limit.
func NewSemaphore(concurrency int) Semaphore {
	return make(chan struct{}, concurrency)
}

// Acquire blocks until the semaphore can be acquired.
func (s Semaphore) Acquire() {
	s <- struct{}{}
}

// Release frees the acquired slot in the semaphore.
func (s Semaphore) Release() {
	<-s
}
