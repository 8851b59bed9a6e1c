package mls

import (
	syntax "github.com/cisco/go-tls-syntax"
)

// syntaxMarshal and syntaxUnmarshal centralize this module's use of
// the TLS-presentation-language codec so every wire struct goes
// through one adapter point, matching the teacher's own reliance on a
// single syntax package for all `tls:"..."`-tagged structs.
func syntaxMarshal(v interface{}) ([]byte, error) {
	return syntax.Marshal(v)
}

func syntaxUnmarshal(data []byte, v interface{}) (int, error) {
	return syntax.Unmarshal(data, v)
}
