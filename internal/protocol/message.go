// Package protocol implements the wire protocol: length-prefixed frames
// carrying schema-less JSON messages. The codec imposes no schema; field
// validation belongs to the handlers.
package protocol

// Message is one decoded wire message: a JSON object of arbitrary shape.
// Handlers inspect the "action" (client → server) or "type" (server → client)
// discriminator and read the fields they need with the accessors below.
type Message map[string]any

// Str returns the string value of the given field, or "" if the field is
// absent or not a string.
func (m Message) Str(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the integer value of the given field. JSON numbers decode as
// float64, so both exact integers and float-typed values are accepted.
//
// Postcondition: Returns (value, true) for numeric fields, (0, false) otherwise.
func (m Message) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Action returns the client message discriminator.
func (m Message) Action() string {
	return m.Str("action")
}
