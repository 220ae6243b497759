// Package classify labels archived text with an LLM behind an
// OpenAI-compatible chat completions endpoint.
//
// Provider handles the HTTP conversation: strict JSON output, Bearer
// auth for hosted endpoints, no key for a local Ollama server, and
// retries limited to network and rate limit failures. MultiClass
// prompts the model to pick one of a configured set of categories,
// Recipe is the built-in binary classifier with a richer detail
// schema. Runner walks the archive, rate-limits the calls, and
// persists one verdict row per item under a shared run id.
package classify
