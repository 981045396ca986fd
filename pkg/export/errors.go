package export

import "fmt"

// FetchError reports that a table export could not be retrieved from
// storage. It is fatal to the render that needed the table.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching table %s: %v", e.Table, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports a schema mismatch or a malformed value in a table
// export. Line is the 1-based line in the CSV file (the header is line 1)
// and is 0 for errors not tied to a row.
type ParseError struct {
	Table  string
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line == 0 && e.Column != "":
		return fmt.Sprintf("parsing table %s: column %q: %v", e.Table, e.Column, e.Err)
	case e.Line == 0:
		return fmt.Sprintf("parsing table %s: %v", e.Table, e.Err)
	case e.Column == "":
		return fmt.Sprintf("parsing table %s line %d: %v", e.Table, e.Line, e.Err)
	default:
		return fmt.Sprintf(
			"parsing table %s line %d column %q value %q: %v",
			e.Table, e.Line, e.Column, e.Value, e.Err,
		)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
