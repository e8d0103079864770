// Package todo defines the Todo entity and the value types shared by the
// store adapters, the cache layer and the mutation pipeline.
//
// # Entity
//
// A Todo is owned by the document store. The cache only keeps a time bounded
// copy and the event log keeps an append-only record of transitions:
//
//	record := todo.Todo{
//		Title:     "Draft release notes",
//		Priority:  todo.PriorityHigh,
//		CreatedBy: "user-1",
//	}
//
// # Versions
//
// Version starts at 1 and every persisted mutation increments it by exactly
// one. Updates carry the version the caller last observed and are rejected
// with KindVersionConflict when the stored version moved on.
//
// # Errors
//
// All packages report failures through *Error, a go-errors error whose
// category is a Kind and which carries the HTTP status and text code of
// that kind:
//
//	if todo.IsKind(err, todo.KindVersionConflict) {
//		// re-read and retry
//	}
package todo
