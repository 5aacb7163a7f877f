// Package migrations embeds the versioned SQL schema for the three pipeline
// layers. The store applies pending migrations with goose when it opens.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
