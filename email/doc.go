// Package email renders and delivers the one-time-code messages sent by the
// account engine.
//
// Two senders are provided. PostmarkSender delivers through the Postmark
// transactional API. DevSender writes each message to disk as an HTML file
// plus JSON metadata and logs it, for local development.
//
// Message bodies are templ components rendered to strings; see CodeMessage.
package email
