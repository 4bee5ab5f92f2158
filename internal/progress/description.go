package progress

import "fmt"

type descState uint8

const (
	descUnset descState = iota
	descClear
	descValue
)

// Description is an optional, printf-style status text attached to an update.
// The zero value leaves the scope's current description untouched.
type Description struct {
	state  descState
	format string
	args   []any
}

// Keep leaves the stored description as it is.
func Keep() Description {
	return Description{}
}

// Clear removes the stored description so that the enclosing scope's own
// description is shown instead.
func Clear() Description {
	return Description{state: descClear}
}

// Describe sets the description to format rendered with args.
func Describe(format string, args ...any) Description {
	return Description{state: descValue, format: format, args: args}
}

// IsSet reports whether the description carries text.
func (d Description) IsSet() bool {
	return d.state == descValue
}

// Format returns the raw format text.
func (d Description) Format() string {
	return d.format
}

// Args returns the format arguments.
func (d Description) Args() []any {
	return d.args
}

// String renders the description, or "" when it carries no text.
func (d Description) String() string {
	if d.state != descValue {
		return ""
	}
	if len(d.args) == 0 {
		return d.format
	}
	return fmt.Sprintf(d.format, d.args...)
}
