package cities

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks configuration problems detected before any
	// file is touched: bad event ranges, missing or unknown parameters.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClusterEmpty is returned by xy reconstruction when no cluster
	// collects enough sensors.
	ErrClusterEmpty = errors.New("no cluster found")

	// ErrUnknownCity is returned by the registry for unregistered names.
	ErrUnknownCity = errors.New("unknown city")
)

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error {
	return e.Err
}

// ErrInvalidInputFileStructure is returned when an input file opens fine
// but lacks a node the reader needs. It is kept apart from ErrOpenFile so
// callers can tell a corrupt file from a missing one.
type ErrInvalidInputFileStructure struct {
	Filename string
	Node     string
}

func (e *ErrInvalidInputFileStructure) Error() string {
	return fmt.Sprintf("invalid input file structure in %q: missing node %q", e.Filename, e.Node)
}

// ErrCreateGroup represents an error when creating a group.
type ErrCreateGroup struct {
	GroupName string
	Err       error
}

func (e *ErrCreateGroup) Error() string {
	return fmt.Sprintf("error creating group %q: %v", e.GroupName, e.Err)
}

func (e *ErrCreateGroup) Unwrap() error {
	return e.Err
}

// ErrCreateTable represents an error when creating a table.
type ErrCreateTable struct {
	TableName string
	Err       error
}

func (e *ErrCreateTable) Error() string {
	return fmt.Sprintf("error creating table %q: %v", e.TableName, e.Err)
}

func (e *ErrCreateTable) Unwrap() error {
	return e.Err
}

// ErrReadTable represents an error when reading an existing table.
type ErrReadTable struct {
	Filename  string
	TableName string
	Err       error
}

func (e *ErrReadTable) Error() string {
	return fmt.Sprintf("error reading table %q from %q: %v", e.TableName, e.Filename, e.Err)
}

func (e *ErrReadTable) Unwrap() error {
	return e.Err
}

// invalidConfig wraps ErrInvalidConfig with a message.
func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
