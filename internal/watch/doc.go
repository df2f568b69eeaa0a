// Package watch observes project export trees and turns filesystem
// notifications into change events. Every project gets its own fsnotify
// watcher; all of them feed one bounded channel that a single consumer
// drains, optionally through a per-path coalescer.
package watch
