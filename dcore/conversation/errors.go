package conversation

import "errors"

// Error taxonomy. Validation errors are rejected synchronously at the
// boundary and never enter the turn log; failure errors mark a whole
// instance dead while leaving its last committed state queryable.
var (
	ErrEmptyConversationID = errors.New("conversation id is required")
	ErrEmptyMessage        = errors.New("message content is required")
	ErrNotFound            = errors.New("conversation not found")
	ErrConversationFailed  = errors.New("conversation instance failed")
	ErrManagerClosed       = errors.New("conversation manager is closed")
)
