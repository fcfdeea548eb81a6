// Package apperr defines the error kinds surfaced by todovex components.
//
// Components return *Error values tagged with a Kind. Presentation code uses
// KindOf and UserMessage to pick a response without inspecting error text:
//
//	if apperr.Is(err, apperr.InvalidArgument) {
//	    // 400
//	}
package apperr
