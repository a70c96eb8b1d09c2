// Package types defines the entity record model, worksheet schemas, the
// backend-agnostic Store interface, configuration, and standard errors for
// the sheetstore persistence engine.
package types
