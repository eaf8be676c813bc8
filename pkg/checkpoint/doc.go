// Package checkpoint persists batch progress so an interrupted run can resume.
//
// A Store owns a single JSON file holding the latest progress.State of one
// batch. Writes are atomic: the document is written to a temporary file in the
// same directory, synced, and renamed over the target, so a crash mid-write
// never leaves a partially written checkpoint behind.
//
// When no explicit path is configured, checkpoints live in a platform-specific
// data directory:
//   - Linux: $XDG_DATA_HOME/batchrun/checkpoints/ (or ~/.local/share/batchrun/checkpoints/)
//   - macOS: ~/Library/Application Support/batchrun/checkpoints/
//   - Windows: %APPDATA%/batchrun/checkpoints/
//
// Two stores pointing at the same file from different processes is not
// supported; nothing locks the file.
package checkpoint
