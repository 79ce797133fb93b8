package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for scan job identifiers.
	FieldJobID = "job_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldStatus is the standardized structured logging key for job statuses.
	FieldStatus = "status"
	// FieldEventType tags log lines with a machine-readable event classification.
	FieldEventType = "event_type"
	// FieldErrorCode carries the structured error code persisted on failed jobs.
	FieldErrorCode = "error_code"
	// FieldErrorHint suggests an operator next step when something goes wrong.
	FieldErrorHint = "error_hint"
	// FieldInferencePath records which inference provider produced a result.
	FieldInferencePath = "inference_path"
	// FieldProcessorID identifies the worker process holding a job lease.
	FieldProcessorID = "processor_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)
