// Package logging builds the slog loggers used across cardmint and defines
// the shared structured field vocabulary.
//
// Components never construct handlers themselves; they receive a *slog.Logger
// and annotate it with the Field* constants so job ids, stages, and inference
// paths stay queryable across console and JSON output.
package logging
