// Package internal contains helper utilities that are intentionally private to
// goAccount, such as secure random code and handle generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: process configuration loaded from the environment
//   - httpapi: chi routes exposing Engine flows over HTTP
//   - rate: Redis-backed fixed-window rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAccount API.
//   - Be imported by any package outside the goAccount module.
package internal
