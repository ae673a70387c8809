package log

// Common field names for structured logging.
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldEntity      = "entity"
	FieldUID         = "uid"
	FieldKind        = "kind"
	FieldAmountCents = "amount_cents"
	FieldSyncVersion = "sync_version"
	FieldFileID      = "file_id"
	FieldRows        = "rows"
	FieldPending     = "pending"
)

// Standard component names.
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentStorage  = "storage"
	ComponentSnapshot = "snapshot"
	ComponentBackup   = "backup"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentReminder = "reminder"
)

// Standard operation names.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpExport   = "export"
	OpMerge    = "merge"
	OpUpload   = "upload"
	OpDownload = "download"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)
