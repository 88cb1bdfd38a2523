package handler

const (
	errInternalServer     = "Internal server error"
	errStorageUnavailable = "Storage unavailable, try again"
	errInvalidID          = "Notification id must be a positive integer"
)
