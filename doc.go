/*
Package sqlmap is a micro-ORM over database/sql: it runs plain SQL with named
parameters and materializes the rows into structs, scalars or dynamic rows.
You write the SQL; sqlmap binds the parameters and maps the columns.

# Overview

Every entry point takes a context, a handle (*sql.DB, *sql.Conn, *sql.Tx or
a wrapper), the SQL and a parameter source. Flat functions (Query, Exec,
QueryFirst, ...) have a Command twin that also carries a transaction, a
timeout, the command kind, flags, split names and the Mapper to use.

When the handle is a *sql.DB, the call acquires one connection and releases
it when the result is consumed: at the end of Query, when a Stream loop ends
or breaks, or when a GridReader reads its last result set or is closed.
*sql.Conn and *sql.Tx handles are never closed.

# Parameters

  - Struct fields (and `db` tags) or string-keyed map entries become named
    parameters, referenced as @name or :name. Names match case-insensitively.
  - A slice member expands: `WHERE id IN @ids` becomes `WHERE id IN (?, ?, ?)`.
    An empty slice becomes a subquery that matches nothing.
  - {=name} inlines a number or bool as literal text.
  - ?name? marks a pseudo-positional parameter; each may appear once.
  - *Params carries directions (Out, InOut, ReturnValue) and metadata; read
    outputs back with Output after the call.
  - Args passes positional arguments unchanged.

The Dialect of the Mapper picks the placeholder style ($1, ?, @p1, :1 or
@name) and whether lists go to the driver as one native array.

# Mapping rules

  - Fields bind by `db:"name"` first; otherwise case-insensitive field and column
    name, and optionally ignoring underscores (WithUnderscoreMatching).
  - Nested structs can be flattened with `db:",inline"`; other nested structs
    are addressed as "parent.child".
  - Registered constructors (RegisterConstructor) build the value from
    columns; remaining columns are still written to fields.
  - Type handlers, sql.Scanner, encoding.TextUnmarshaler and registered enum
    names customize conversions. Numeric conversions are range checked.
  - NULL leaves the destination untouched, or resets it to its zero value
    with strict nulls (SetStrictNulls).
  - Extra columns are ignored.

# Performance

On first use of an identity (SQL, parameter type, target types, grid index),
sqlmap compiles a row plan for the observed columns: converters, ordinals and
field paths captured in closures. Plans are cached per identity together with
a signature of the columns; when the signature changes (an altered table
behind SELECT *) the plan is recompiled in place. Parameter shapes and parsed
SQL templates are cached per type and per text. ResetCache drops everything.

# Error handling

  - QueryFirst and QuerySingle return sql.ErrNoRows when no row matches;
    QuerySingle returns ErrMultipleRows for more than one.
  - Structural problems are typed: ParameterError, ConstructorError,
    SplitError and TypeMismatchError, each matching its sentinel with
    errors.Is.
  - Driver errors are returned as they are, after the rows and connection
    were released. Buffered reads never return partial results.

# Observability

A Mapper logs compilation and cache events with log/slog at debug level and
reports cache hits, misses, compiles and command latency through the
OpenTelemetry meter and tracer providers given to NewMapper.
*/
package sqlmap
