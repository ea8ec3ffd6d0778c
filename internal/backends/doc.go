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

// Package backends provides database handles used by request handlers.
//
// A [Handle] owns exactly one physical connection to one of the interchangeable backends
// described by the [Backend] interface. Each worker owns its own handle; handles are not safe
// for concurrent use.
//
// Handles also track the depth of nested transactions.
// Depth 0 means no open transaction; deeper levels are implemented with savepoints,
// so handlers may call [Handle.Begin] and [Handle.Commit] without knowing whether a caller
// already started a transaction.
//
// All failures at this boundary are returned as [*Error] values.
package backends
