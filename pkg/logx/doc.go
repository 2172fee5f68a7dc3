// Package logx is kosha's structured logging layer on top of zerolog.
//
// A Logger is a small value that carries fixed fields and resolves its sink
// through a Service, so Service.Apply can swap level and outputs while the
// process runs. Outputs are a readable console writer, a JSON file, and an
// optional alert sink that forwards warnings to the owner chat.
package logx
