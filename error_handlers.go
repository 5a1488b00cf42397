package tasksched

// reportInternalError reports a failure of the pool itself, such as a
// worker that could not be pinned or a panicking Abandon hook.
// If no handler is registered, the error is silently ignored.
func (p *Pool) reportInternalError(e error) {
	if p.OnInternalError != nil {
		p.OnInternalError(e)
	}
}

// reportJobError reports a task panic recovered by a worker.
// Job errors do not stop the pool.
func (p *Pool) reportJobError(err error) {
	if p.OnJobError != nil {
		p.OnJobError(err)
	}
}
