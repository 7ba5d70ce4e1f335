package kikitori

import "embed"

//go:embed web/*
var WebFiles embed.FS
