package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyUserContext = "USER_CONTEXT"
	// KeyUserID is read by the access log format.
	KeyUserID = "user_id"
)
