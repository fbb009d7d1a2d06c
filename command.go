package sqlmap

import (
	"database/sql"
	"time"
)

// Kind tells how Command.SQL is interpreted.
type Kind int

const (
	// KindText runs Command.SQL as written.
	KindText Kind = iota
	// KindStoredProcedure treats Command.SQL as a procedure name and renders
	// the call from the parameter source.
	KindStoredProcedure
)

// Flags tune how a command runs and how its results are read.
type Flags uint8

const (
	// FlagBuffered reads grid results fully before returning them. Query and
	// QueryCommand always buffer; Stream never does.
	FlagBuffered Flags = 1 << iota
	// FlagPipelined runs batch executions concurrently, at most Window at a
	// time.
	FlagPipelined
	// FlagNoCache compiles row plans without publishing them.
	FlagNoCache
	// FlagFirstColumn lets scalar targets read the first of several columns.
	FlagFirstColumn
)

const (
	// DefaultSplitOn is the split column used when Command.SplitOn is empty.
	DefaultSplitOn = "Id"
	// DefaultWindow is the pipelined batch window used when Command.Window is
	// not positive.
	DefaultWindow = 100
)

// Command bundles everything one call needs. The flat entry points (Query,
// Exec, ...) build a Command from their arguments.
type Command struct {
	SQL     string
	Params  any
	Tx      *sql.Tx
	Timeout time.Duration
	Kind    Kind
	Flags   Flags
	SplitOn string
	Window  int
	Mapper  *Mapper
}

// NewCommand returns a buffered text command.
func NewCommand(query string, params any) Command {
	return Command{SQL: query, Params: params, Flags: FlagBuffered}
}

// Args passes explicit positional arguments. Only placeholder rewriting is
// applied to the SQL.
type Args []any

func (c *Command) mapper() *Mapper {
	if c.Mapper != nil {
		return c.Mapper
	}
	return Default()
}

func (c *Command) has(f Flags) bool { return c.Flags&f != 0 }

func (c *Command) splitOn() string {
	if c.SplitOn == "" {
		return DefaultSplitOn
	}
	return c.SplitOn
}

func (c *Command) window() int {
	if c.Window <= 0 {
		return DefaultWindow
	}
	return c.Window
}
