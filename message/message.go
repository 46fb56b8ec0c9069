// Package message exposes the generic Message type used to represent
// a message flowing through the bus, in one of its two variants:
// Event or Command.
package message

// Kind discriminates the two Message variants understood by the bus.
//
// The taxonomy is closed: a Message reporting any other Kind value is
// rejected by the dispatch engine with a fatal error.
type Kind uint8

const (
	// KindUnspecified is the zero value of Kind, and not a valid variant.
	KindUnspecified Kind = iota

	// KindEvent marks a Message describing something that already happened.
	// Events can be observed by zero or more handlers.
	KindEvent

	// KindCommand marks a Message describing an intent to be carried out
	// by exactly one handler.
	KindCommand
)

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "EVENT"
	case KindCommand:
		return "COMMAND"
	case KindUnspecified:
		fallthrough
	default:
		return "UNSPECIFIED"
	}
}

// ParseKind maps the textual form produced by Kind.String back to a Kind.
// The second return value reports whether the input named a valid variant.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "EVENT":
		return KindEvent, true
	case "COMMAND":
		return KindCommand, true
	default:
		return KindUnspecified, false
	}
}

// Message is a message payload.
//
// Each payload should have a unique name identifier, that can be used
// to uniquely route a message to its handlers, and must report which
// of the two variants it belongs to through Kind.
//
// Event type names should be phrased in the past tense ("OrderShipped"),
// Command type names in the imperative ("ShipOrder").
type Message interface {
	Name() string
	Kind() Kind
}

// Metadata contains some data related to a Message that are not functional
// for the Message itself, but instead functioning as supporting information
// to provide additional context.
type Metadata map[string]string

// With returns a new Metadata reference holding the value addressed using
// the specified key.
func (m Metadata) With(key, value string) Metadata {
	if m == nil {
		m = make(Metadata)
	}

	m[key] = value

	return m
}

// Merge merges the other Metadata provided in input with the current map.
// Returns a pointer to the extended metadata map.
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil {
		return other
	}

	for k, v := range other {
		m[k] = v
	}

	return m
}
