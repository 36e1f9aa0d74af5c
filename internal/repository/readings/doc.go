// Package readings persists the carbon reading window.
//
// The FileRepository stores the window as a plain JSON array of numbers and
// replaces the file atomically on every save.
package readings
