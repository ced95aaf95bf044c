package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldUserID        = "user_id"
	FieldEntryID       = "entry_id"
	FieldSplitID       = "split_id"
	FieldBudgetID      = "budget_id"
	FieldLoanID        = "loan_id"
	FieldLeaderboardID = "leaderboard_id"
	FieldAmountCents   = "amount_cents"
	FieldCategory      = "category"
	FieldPeriodStart   = "period_start"
	FieldPeriodEnd     = "period_end"
	FieldWritePath     = "write_path"
	FieldQueue         = "queue"
	FieldExchange      = "exchange"
	FieldDuration      = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentRecorder = "recorder"
	ComponentNotifier = "notifier"
	ComponentResync   = "resync"
	ComponentStore    = "store"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentCache    = "cache"
)

// Operations defines standard operation names
const (
	OpRecord   = "record"
	OpEdit     = "edit"
	OpDelete   = "delete"
	OpEvaluate = "evaluate"
	OpResync   = "resync"
	OpMigrate  = "migrate"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
