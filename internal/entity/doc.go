// Package entity defines the rows of the name graph.
//
// Relationships are held as ids (ParentID, DomainID, ResolverID,
// SubregistryID) and resolved through the store, never as pointers: the
// referenced row may not have been written yet when a dependent event is
// applied.
//
// Rows are plain values. A Patch names the columns to overwrite when a row
// already exists; the column names are the Field* constants.
package entity
