// Package logx configures tgreddit's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp + short caller) while the optional file sink
// stays JSON-structured.
package logx
