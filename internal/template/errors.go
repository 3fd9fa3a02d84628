package template

import "errors"

var (
	// ErrParse is returned when a template fails to compile.
	ErrParse = errors.New("template: parse error")

	// ErrRender is returned when a compiled template fails to execute.
	ErrRender = errors.New("template: render error")
)
