package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for workflow observability spans and metrics.
var (
	AttrRunID    = attribute.Key("run.id")
	AttrTaskName = attribute.Key("task.name")

	AttrTaskAttempt  = attribute.Key("task.attempt")
	AttrTaskStatus   = attribute.Key("task.status")
	AttrStepsTotal   = attribute.Key("workflow.total_steps")
	AttrDynamicTasks = attribute.Key("workflow.dynamic_tasks")
)
