// Package appfs embeds the files the binaries need at runtime.
package appfs

import "embed"

// all: keeps the "_"-prefixed base email layouts.
//
//go:embed migrations all:assets
var FS embed.FS
