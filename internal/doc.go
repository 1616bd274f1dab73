// Package internal holds secret generation helpers shared by the engine and
// its flows.
package internal
