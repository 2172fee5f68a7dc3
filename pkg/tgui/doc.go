// Package tgui holds Telegram presentation helpers: HTML escaping, the
// Markdown to HTML conversion used for model output, message splitting with
// tag repair, inline keyboards and callback data.
package tgui
