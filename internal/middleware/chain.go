package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middlewares. The first one is the outermost.
type Chain []Middleware

// NewChain creates a chain from middlewares
func NewChain(middlewares ...Middleware) Chain {
	return Chain(middlewares)
}

// With returns a copy of the chain with middlewares added innermost.
// The receiver is never modified, so a shared base chain can be extended
// per route.
func (c Chain) With(middlewares ...Middleware) Chain {
	out := make(Chain, 0, len(c)+len(middlewares))
	out = append(out, c...)
	return append(out, middlewares...)
}

// Then wraps h in every middleware of the chain. A nil h answers 404.
func (c Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}
