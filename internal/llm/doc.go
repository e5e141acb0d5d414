// Package llm contains adapters and orchestration logic for invoking large
// language models. It abstracts away provider-specific APIs and normalizes
// the step stream consumed by the conversation loop.
package llm
