package sylog

// messageLevel mirrors the verbosity scale used throughout this module's
// binaries: negative values are increasingly quiet, positive increasingly
// verbose.
type messageLevel int

const (
	FatalLevel   messageLevel = -3
	ErrorLevel   messageLevel = -2
	WarnLevel    messageLevel = -1
	LogLevel     messageLevel = 0
	InfoLevel    messageLevel = 1
	VerboseLevel messageLevel = 2
	DebugLevel   messageLevel = 5
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case VerboseLevel:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "LOG"
	}
}
