// Package core provides the task authoring model consumed by the execution
// runtime.
//
// # Core Types
//
// UnitTask: any task runnable by the runtime; carries a name, a resource
// requirement, and a post-completion hook mapping an exit code to a success
// boolean.
//
// ProcessTask: a unit task whose body is an external OS process, described by
// a launch command parameterized with script and log file paths.
//
// FuncTask: a unit task whose body is a callable executed inside this
// process.
//
// The concrete types ShellTask and GoTask cover the common authoring cases;
// callers with richer needs implement the interfaces directly.
package core
