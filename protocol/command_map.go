package protocol

import "strings"

// CommandMap rewrites command names on their way out. MapCommand returns the name to send,
// which may be name itself, or an empty slice when the command is not available on this
// connection.
type CommandMap interface {
	MapCommand(name []byte) []byte
}

// CommandMapFunc adapts a function to CommandMap.
type CommandMapFunc func(name []byte) []byte

func (f CommandMapFunc) MapCommand(name []byte) []byte {
	return f(name)
}

// DefaultCommandMap sends every command unchanged.
var DefaultCommandMap CommandMap = CommandMapFunc(func(name []byte) []byte { return name })

const maxCommandName = 32

// tableCommandMap maps upper case command names to their replacement.
type tableCommandMap map[string][]byte

// NewCommandMap returns a CommandMap that renames the commands in renames, matched case
// insensitively. An empty replacement disables the command.
func NewCommandMap(renames map[string]string) CommandMap {
	m := make(tableCommandMap, len(renames))
	for from, to := range renames {
		m[strings.ToUpper(from)] = []byte(to)
	}

	return m
}

func (m tableCommandMap) MapCommand(name []byte) []byte {
	if len(name) > maxCommandName {
		if to, ok := m[strings.ToUpper(string(name))]; ok {
			return to
		}
		return name
	}

	var upper [maxCommandName]byte
	for i, c := range name {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}

	if to, ok := m[string(upper[:len(name)])]; ok {
		return to
	}

	return name
}
