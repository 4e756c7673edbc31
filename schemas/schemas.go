// Package schemas embeds the JSON Schemas for the wire protocol and the
// build save document.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS

const BuildSave = "build_save.schema.json"
