package errors

type Code string

const (
	CodeUnknown      Code = "UNKNOWN"
	CodeValidation   Code = "VALIDATION"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeOffline      Code = "OFFLINE"
	CodeBusy         Code = "BUSY"
	CodePersistence  Code = "PERSISTENCE"
)
