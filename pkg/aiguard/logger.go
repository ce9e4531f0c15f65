package aiguard

// Field represents a structured log field.
type Field struct {
	Key   string
	Value interface{}
}

// Logger defines the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}

func subjectFields(userID string, feature FeatureType, extra ...Field) []Field {
	fields := make([]Field, 0, 2+len(extra))
	fields = append(fields, Field{Key: "user_id", Value: userID}, Field{Key: "feature", Value: string(feature)})
	return append(fields, extra...)
}

func errField(err error) Field {
	return Field{Key: "error", Value: err.Error()}
}
