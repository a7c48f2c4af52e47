// Package idconverter implements IdConverter: translating external blob
// id strings to/from internal canonical ids, asynchronously.
package idconverter

import (
	"context"
	"fmt"
	"sync"
)

// Result is delivered to a convert continuation.
type Result struct {
	ID  string
	Err error
}

// Converter is the IdConverter collaborator. On POST, input is the BlobId
// minted by the router and Convert may rewrite it (e.g. register a short
// alias); on GET/HEAD/DELETE, input is the client-supplied id and Convert
// resolves aliases back to a canonical id.
type Converter interface {
	// Convert runs asynchronously; fn is invoked exactly once with the
	// outcome. Implementations must never block the caller.
	Convert(ctx context.Context, input string, fn func(Result))
}

// Passthrough is a Converter with no alias layer: it returns input
// unchanged. This is the default when no alias registry is configured.
type Passthrough struct{}

// Convert immediately returns input unchanged.
func (Passthrough) Convert(ctx context.Context, input string, fn func(Result)) {
	fn(Result{ID: input})
}

// AliasRegistry is a Converter that maintains a bidirectional mapping
// between short aliases minted on POST and the router's canonical
// BlobId strings, guarded by a mutex since registration can race with
// concurrent lookups.
type AliasRegistry struct {
	mu          sync.RWMutex
	aliasToReal map[string]string
	realToAlias map[string]string
	nextAlias   func() string
}

// NewAliasRegistry builds an AliasRegistry using genAlias to mint new
// short aliases for POST responses.
func NewAliasRegistry(genAlias func() string) *AliasRegistry {
	return &AliasRegistry{
		aliasToReal: map[string]string{},
		realToAlias: map[string]string{},
		nextAlias:   genAlias,
	}
}

// Convert resolves an alias to its canonical id on read paths, or mints
// (and registers) a fresh alias for a canonical id coming from a PUT.
func (a *AliasRegistry) Convert(ctx context.Context, input string, fn func(Result)) {
	a.mu.RLock()
	if real, ok := a.aliasToReal[input]; ok {
		a.mu.RUnlock()
		fn(Result{ID: real})
		return
	}
	if alias, ok := a.realToAlias[input]; ok {
		a.mu.RUnlock()
		fn(Result{ID: alias})
		return
	}
	a.mu.RUnlock()

	// Unknown input: for a canonical-looking id with no alias yet, mint
	// one; this happens on the POST reverse-conversion path.
	alias := a.nextAlias()
	a.mu.Lock()
	a.aliasToReal[alias] = input
	a.realToAlias[input] = alias
	a.mu.Unlock()
	fn(Result{ID: alias})
}

// ErrConversionFailed is returned by implementations that want the
// pipeline to surface InternalError without a more specific cause.
var ErrConversionFailed = fmt.Errorf("idconverter: conversion failed")
