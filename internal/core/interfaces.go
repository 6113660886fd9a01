package core

// Logger is the structured logging interface implemented by
// internal/logging.ZapLogger, kept here so domain packages depend on an
// interface rather than a concrete logging library.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}
