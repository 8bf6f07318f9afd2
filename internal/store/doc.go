// Package store defines the persistence interfaces the lifecycle engine
// depends on (task store, transition store, transactor) together with the
// sentinel errors and failure-classification helpers shared by every store
// implementation. Concrete implementations live under internal/platform.
package store
