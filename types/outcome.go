package types

// ExecutionOutcome is the result the execution callback reports back for one
// transaction. Err carries the externally-defined execution failure, if any;
// ComputeUnits is the cost number fed back into scheduling heuristics and
// session statistics.
type ExecutionOutcome struct {
	Err          error
	ComputeUnits uint64
}

// Succeeded reports whether execution completed without an error.
func (o *ExecutionOutcome) Succeeded() bool { return o != nil && o.Err == nil }
