// Package intent defines the fixed set of user intents and the per-intent
// payload schemas. Parse turns raw model output into a validated record or
// reports why it cannot.
package intent
