package dcore

// Application-wide defaults. Components receive these through the config
// package; nothing below is read from the process environment directly.
const (
	DefaultAppName    = "dialog-core"
	DefaultConfigPath = "/etc/dialog-core"

	DefaultDatabaseDir  = "data"
	DefaultDatabasePath = "data/dialog.db"

	// Execution-engine identifiers. The engine itself is an external
	// collaborator; these label persisted conversation metadata so an
	// operator can correlate transcripts with engine-side executions.
	DefaultEngineAddress = "localhost:7233"
	DefaultNamespace     = "default"
	DefaultTaskQueue     = "conversation"
	DefaultWorkflowType  = "conversationWorkflow"

	DefaultBridgeAddr = "localhost:3001"

	DefaultWorkspaceRoot = "workspace"
)
