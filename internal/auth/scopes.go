package auth

// OAuth scopes understood by the attendance API.
const (
	ScopeAttendanceWrite = "attendance:write"
	ScopeAttendanceRead  = "attendance:read"
	ScopeAttendanceAdmin = "attendance:admin"
)
