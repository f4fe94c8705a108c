// Package resource provides a per-session table of live resources addressed
// by opaque numeric handles.
//
// A Table is owned by one client session. Handles are allocated from a
// monotonic counter and are never reused while the resource they name is
// still in the table. The table lock is held only for map access; resource
// Close methods always run outside it.
//
// Usage:
//
//	table := resource.NewTable()
//	h := table.Add(res)
//	res, err := resource.Get[*MyResource](table, h)
//	res, err = resource.Take[*MyResource](table, h)
//	err = table.Close(h)
//
// Slot is the companion primitive for one-shot ownership transfer: the first
// Take wins and every later Take reports the value as gone.
package resource
