package handlers

import (
	"net/http"
	"runtime"
)

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var versionInfo = VersionResponse{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build metadata served by VersionHandler.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionResponse{Version: version, Commit: commit, BuildDate: buildDate}
}

// VersionHandler serves GET /version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	resp := versionInfo
	resp.GoVersion = runtime.Version()
	writeJSON(w, http.StatusOK, resp)
}
