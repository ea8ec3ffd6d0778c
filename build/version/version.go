// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version provides information about appserver version and build configuration.
//
// # Extra files
//
// The following text files may be present in this (`build/version`) directory during building:
//   - version.txt (required) contains the version in a format similar to `git describe` output.
//   - commit.txt (optional) contains information about the source git commit.
//   - branch.txt (optional) contains information about the source git branch.
//
// # Go build tags
//
//	appserver_debug - enables debug build (stack traces on leaked resources, debug log level by default).
package version

import (
	"embed"
	"runtime"
	runtimedebug "runtime/debug"
	"strings"

	"github.com/appserver/appserver/internal/util/debugbuild"
)

//go:embed *.txt
var gen embed.FS

// Info provides details about the current build.
//
//nolint:vet // for readability
type Info struct {
	Version          string
	Commit           string
	Branch           string
	Dirty            bool
	DebugBuild       bool
	BuildEnvironment map[string]string
}

// info singleton instance set by init().
var info *Info

// unknown is a placeholder for unknown version, commit, and branch values.
const unknown = "unknown"

// Get returns current build's info.
//
// It returns a shared instance without any synchronization.
func Get() *Info {
	return info
}

func init() {
	info = &Info{
		Version:    unknown,
		Commit:     unknown,
		Branch:     unknown,
		DebugBuild: debugbuild.Enabled,
		BuildEnvironment: map[string]string{
			"go.runtime": runtime.Version(),
		},
	}

	for f, sp := range map[string]*string{
		"version.txt": &info.Version,
		"commit.txt":  &info.Commit,
		"branch.txt":  &info.Branch,
	} {
		b, _ := gen.ReadFile(f)
		if s := strings.TrimSpace(string(b)); s != "" {
			*sp = s
		}
	}

	buildInfo, ok := runtimedebug.ReadBuildInfo()
	if !ok {
		return
	}

	info.BuildEnvironment["go.version"] = buildInfo.GoVersion

	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == unknown {
				info.Commit = s.Value
			}

		case "vcs.modified":
			info.Dirty = s.Value == "true"

		case "-race":
			info.BuildEnvironment["race"] = s.Value

		case "-tags":
			info.BuildEnvironment["tags"] = s.Value
		}
	}
}
