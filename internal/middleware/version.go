package middleware

import (
	"net/http"

	"golang.org/x/mod/semver"

	"varmatrix/internal/model"
)

// VersionHeader names the API version a client was written against.
const VersionHeader = "Matrix-Version"

// APIVersion is the version of the REST and MCP surfaces.
const APIVersion = "1.2.0"

// Version returns middleware that rejects clients whose requested version
// this server cannot serve. The header is optional; every response carries
// the server version.
func Version(server string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(VersionHeader, server)

			if requested := r.Header.Get(VersionHeader); requested != "" && !isExemptPath(r.URL.Path) {
				if !versionCompatible(requested, server) {
					writeError(w, model.NewUnsupportedVersionError(requested, server))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// versionCompatible reports whether a client on requested can talk to a
// server on server: same major, client minor not newer.
func versionCompatible(requested, server string) bool {
	cv := normalizeVersion(requested)
	sv := normalizeVersion(server)
	if !semver.IsValid(cv) || !semver.IsValid(sv) {
		return false
	}
	if semver.Major(cv) != semver.Major(sv) {
		return false
	}
	return semver.Compare(semver.MajorMinor(cv), semver.MajorMinor(sv)) <= 0
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
