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


package templating

import (
	"embed"
	"io/fs"
	"os"

	"github.com/appserver/appserver/internal/util/must"
)

//go:embed templates/*.html
var embedded embed.FS

// Default contains built-in templates.
var Default = must.NotFail(fs.Sub(embedded, "templates"))

// Dir returns templates from the given directory, if it exists, or built-in templates.
func Dir(dir string) fs.FS {
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return os.DirFS(dir)
	}

	return Default
}
