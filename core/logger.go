package core

// Logger is any service that can report application events and errors.
// Implementations may forward errors to an external tracker; args may
// carry an error, a map of extra fields and/or the acting user.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
