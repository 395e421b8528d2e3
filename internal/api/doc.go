// Package api exposes the REST surface of the assistant: wallet login,
// message turns, conversation retrieval and metadata management. Handlers
// delegate all pipeline work to the dispatch package.
package api
