// Package domain contains the core entities of the dispatch system: prompt
// tasks, their lifecycle status machine, and the append-only transition audit
// record. It has no dependencies on storage, transport, or other
// infrastructure concerns.
package domain
