package logger

import "fmt"

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// Logger defines the interface for logging
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// StdLogger writes leveled, field-annotated lines to stdout
type StdLogger struct{}

func NewStdLogger() *StdLogger {
	return &StdLogger{}
}

func (sl *StdLogger) Info(msg string, fields ...Field) {
	sl.print("INFO", msg, fields)
}

func (sl *StdLogger) Warn(msg string, fields ...Field) {
	sl.print("WARN", msg, fields)
}

func (sl *StdLogger) Error(msg string, fields ...Field) {
	sl.print("ERROR", msg, fields)
}

func (sl *StdLogger) print(level, msg string, fields []Field) {
	fmt.Printf("[%s] %s", level, msg)
	if len(fields) > 0 {
		fmt.Print(" [")
		for i, f := range fields {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%s=%v", f.Key, f.Value)
		}
		fmt.Print("]")
	}
	fmt.Println()
}

// NopLogger discards everything; used by tests
type NopLogger struct{}

func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (nl *NopLogger) Info(msg string, fields ...Field)  {}
func (nl *NopLogger) Warn(msg string, fields ...Field)  {}
func (nl *NopLogger) Error(msg string, fields ...Field) {}
