// Package migrations 内嵌随二进制分发的 SQL 迁移文件。
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
