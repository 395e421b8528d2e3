// Package llm contains adapters and orchestration primitives for invoking
// large language models. It abstracts away provider-specific APIs and
// normalizes the role-tagged transcript exchanged with the chat frontend.
package llm
