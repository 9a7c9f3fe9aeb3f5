package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/kektech/kektech/internal/core"
)

// Build metadata, injected from main via SetVersionInfo.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

var (
	buildMu     sync.RWMutex
	appIdentity *appidentity.Identity
	quotaInfo   = QuotaInfo{Backend: "local"}
)

func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

func SetAppIdentity(identity *appidentity.Identity) {
	buildMu.Lock()
	defer buildMu.Unlock()
	appIdentity = identity
}

// SetQuotaInfo records the quota backend selected at startup and the
// per-use-case limits it enforces.
func SetQuotaInfo(backend string, quotas map[core.UseCase]core.QuotaConfig) {
	info := QuotaInfo{Backend: "local"}
	if backend != "" {
		info.Backend = backend
	}
	for _, uc := range core.UseCases {
		if q, ok := quotas[uc]; ok && q.Valid() {
			info.UseCases = append(info.UseCases, UseCaseQuota{
				UseCase:  string(uc),
				Limit:    q.Limit,
				WindowMs: q.Window.Milliseconds(),
			})
		}
	}

	buildMu.Lock()
	defer buildMu.Unlock()
	quotaInfo = info
}

// VersionResponse is the /version body.
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
	Quota        QuotaInfo   `json:"quota"`
}

// QuotaInfo names the active quota backend (local, redis or libsql).
type QuotaInfo struct {
	Backend  string         `json:"backend"`
	UseCases []UseCaseQuota `json:"use_cases,omitempty"`
}

type UseCaseQuota struct {
	UseCase  string `json:"use_case"`
	Limit    int64  `json:"limit"`
	WindowMs int64  `json:"window_ms"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// binaryName prefers the app identity and falls back to the executable name.
func binaryName(identity *appidentity.Identity) string {
	if identity != nil && identity.BinaryName != "" {
		return identity.BinaryName
	}
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	deps := crucible.GetVersion()

	buildMu.RLock()
	name := binaryName(appIdentity)
	quota := quotaInfo
	buildMu.RUnlock()

	writeJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      name,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
		Quota: quota,
	})
}
