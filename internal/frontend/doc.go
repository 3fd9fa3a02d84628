// Package frontend serves a prebuilt dashboard from a directory.
//
// Any single-page web UI can be pointed at (api.frontend_dir). Requests for
// files that do not exist fall back to index.html so client-side routing
// works. The API itself lives under /api and is never shadowed.
package frontend
