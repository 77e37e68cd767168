// ABOUTME: Embeds the console page template and browser shim into the binary
// ABOUTME: Provides templateFS and staticFS for serving at runtime

package web

import "embed"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*.js static/*.css
var staticFS embed.FS
