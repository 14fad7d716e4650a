package logger

import (
	"fmt"
	"log"
	"os"
)

// New returns a stderr-backed logger with a component prefix, for early
// startup output before the structured logger is configured.
func New(component string) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", component)
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
