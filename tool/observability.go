package tool

// InvokeObservation captures one tool invocation outcome.
type InvokeObservation struct {
	ToolName   string
	DurationMS int64
	Success    bool
	// ToolReported is true when the worker answered with isError set.
	ToolReported bool
	ErrorCode    string
}

// RefreshObservation captures one catalog refresh.
type RefreshObservation struct {
	ToolCount  int
	DurationMS int64
	Success    bool
	ErrorCode  string
}

// WorkerExitObservation captures the worker process ending.
type WorkerExitObservation struct {
	ExitCode int
	// Requested is true when the exit followed a Stop.
	Requested bool
	// PendingFailed counts the calls failed by the exit.
	PendingFailed int
}

// Observer receives tool-level observability events. Implementations must
// be safe for concurrent use.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
	ObserveRefresh(observation RefreshObservation)
	ObserveWorkerExit(observation WorkerExitObservation)
}

// NoopObserver discards every observation.
type NoopObserver struct{}

func (NoopObserver) ObserveInvoke(InvokeObservation)         {}
func (NoopObserver) ObserveRefresh(RefreshObservation)       {}
func (NoopObserver) ObserveWorkerExit(WorkerExitObservation) {}

func observerOrNoop(observer Observer) Observer {
	if observer == nil {
		return NoopObserver{}
	}
	return observer
}
