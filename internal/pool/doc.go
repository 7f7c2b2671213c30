// Package pool holds the shared, ordered and deduplicated set of backend
// endpoints together with the round-robin cursor.
//
// Every operation runs in one exclusive critical section. Selection is a
// single read-modify-write of the cursor, so concurrent callers never receive
// the same position twice within one cycle. No network I/O happens while the
// lock is held.
package pool
