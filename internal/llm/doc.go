// Package llm talks to the Gemini generateContent REST API. Calls go through
// a circuit breaker (sony/gobreaker) and bounded exponential retry
// (cenkalti/backoff). Multi-turn chat history is kept in memory per chat by
// Sessions.
package llm
