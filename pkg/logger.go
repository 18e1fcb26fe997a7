package cities

type Logger interface {
	Info(message string, module string)
	Warn(message string, module string)
	Error(string)
}

type nopLogger struct{}

func (nopLogger) Info(string, string) {}
func (nopLogger) Warn(string, string) {}
func (nopLogger) Error(string)        {}

var logger Logger = nopLogger{}

func SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	logger = l
}

// warn reports a recoverable anomaly. Processing continues.
func warn(message string, module string) {
	logger.Warn(message, module)
}
