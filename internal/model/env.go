// Package model defines shared types for the shim.
package model

// Var is one CGI environment variable.
type Var struct {
	Name  string
	Value string
}

// Env is an ordered CGI environment. Order matters: header derivation
// walks the environment front to back and emits headers in the same
// order, so construction order is the wire order.
type Env []Var

// Get returns the value of the first variable with the given name,
// or empty string if absent.
func (e Env) Get(name string) string {
	for _, v := range e {
		if v.Name == name {
			return v.Value
		}
	}
	return ""
}

// Set appends a variable, replacing an existing one with the same name
// in place so the original position is kept.
func (e Env) Set(name, value string) Env {
	for i, v := range e {
		if v.Name == name {
			e[i].Value = value
			return e
		}
	}
	return append(e, Var{Name: name, Value: value})
}

// Header is one translated backend header line.
type Header struct {
	Name  string
	Value string
}
