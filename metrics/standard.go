package metrics

// Pre-defined metrics for the unisched scheduling engine. All metrics live
// in DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Task lifecycle metrics ----

	// TasksAdmitted counts tasks accepted into a scheduler session.
	TasksAdmitted = DefaultRegistry.Counter("sched.tasks_admitted")
	// TasksExecuted counts tasks whose execution completed (any outcome).
	TasksExecuted = DefaultRegistry.Counter("sched.tasks_executed")
	// TasksContended counts tasks that lost at least one lock race.
	TasksContended = DefaultRegistry.Counter("sched.tasks_contended")
	// TasksFlushed counts tasks abandoned at a session flush boundary.
	TasksFlushed = DefaultRegistry.Counter("sched.tasks_flushed")

	// ---- Lock table metrics ----

	// LockConflicts counts individual lock attempts resolved to Failed.
	LockConflicts = DefaultRegistry.Counter("sched.lock_conflicts")
	// ProvisionalGrants counts next-usage reservations handed out.
	ProvisionalGrants = DefaultRegistry.Counter("sched.provisional_grants")
	// ProvisionalFulfilled counts reservations that matured into real locks.
	ProvisionalFulfilled = DefaultRegistry.Counter("sched.provisional_fulfilled")

	// ---- Queue depth metrics ----

	// RunnableDepth tracks the number of tasks awaiting a first attempt.
	RunnableDepth = DefaultRegistry.Gauge("sched.runnable_depth")
	// ExecutingDepth tracks in-flight execution environments.
	ExecutingDepth = DefaultRegistry.Gauge("sched.executing_depth")
	// TrackerDepth tracks outstanding provisioning trackers.
	TrackerDepth = DefaultRegistry.Gauge("sched.tracker_depth")

	// ---- Pool metrics ----

	// PoolIdle tracks idle schedulers parked in the pool.
	PoolIdle = DefaultRegistry.Gauge("schedpool.idle")
	// PoolSpawned counts scheduler instances ever spawned by the pool.
	PoolSpawned = DefaultRegistry.Counter("schedpool.spawned")
	// SessionsCompleted counts sessions drained through the flush protocol.
	SessionsCompleted = DefaultRegistry.Counter("schedpool.sessions_completed")

	// ---- Timing metrics ----

	// ExecuteTime records per-task execution wall time in milliseconds.
	ExecuteTime = DefaultRegistry.Histogram("sched.execute_ms")
	// SessionTime records whole-session duration in milliseconds.
	SessionTime = DefaultRegistry.Histogram("schedpool.session_ms")

	// ExecutionRate meters completed executions per second across all
	// sessions.
	ExecutionRate = DefaultRegistry.Meter("sched.execution_rate")
)
