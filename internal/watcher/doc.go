// Package watcher notices when a watched file changes on disk.
//
// `verirag serve --watch` watches two files: the chunk JSONL export, whose
// changes trigger a rebuild, and the snapshot database, whose changes (a
// `verirag index` run from another process) trigger a reload.
//
// HybridWatcher uses fsnotify on the files' parent directories, so atomic
// replace-by-rename is seen, and falls back to polling file stats where
// fsnotify is unavailable (network mounts, some container volumes). Events
// are debounced so one write burst produces one batch.
package watcher
