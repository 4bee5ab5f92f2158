package progress

// TeeCallback fans a report out to every non-nil callback in order and
// returns the first error.
func TeeCallback(cbs ...Callback) Callback {
	return func(fraction float64, description string, args ...any) error {
		for _, cb := range cbs {
			if cb == nil {
				continue
			}
			if err := cb(fraction, description, args...); err != nil {
				return err
			}
		}
		return nil
	}
}

type teeLogger []Logger

func (t teeLogger) Debugf(template string, args ...any) {
	for _, l := range t {
		l.Debugf(template, args...)
	}
}

// TeeLogger sends every entry to each non-nil logger.
func TeeLogger(loggers ...Logger) Logger {
	out := make(teeLogger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}
