package worker

import "encoding/gob"

// init registers the concrete types that flow through Spec.Fields'
// map[string]any so gob can encode/decode them across the worker pipe. gob
// refuses to transmit a concrete type stored in an interface{} value unless
// it has been registered, so every shape the YAML step loader can produce
// for an untyped field needs an entry here: scalars, and the two
// collection shapes (map[string]any, []any) they nest inside.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register("")
	gob.Register(false)
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
}
