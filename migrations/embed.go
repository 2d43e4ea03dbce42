// Package migrations embeds the SQL schema applied by the seed tool and
// integration tests.
package migrations

import "embed"

// Files embeds every migration in lexical (apply) order.
//
//go:embed *.sql
var Files embed.FS
