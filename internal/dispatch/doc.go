// Package dispatch implements the turn state machine. Given a classified
// intent record it answers directly, fetches external data and re-invokes
// the classifier, or emits a machine-actionable payload for the client.
package dispatch
