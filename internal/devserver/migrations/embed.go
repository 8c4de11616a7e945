// Package migrations embeds devserver's goose migration files, mirroring
// the teacher's server/migrations package (a bare embed.FS handed to
// goose.SetBaseFS by the repository manager).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
