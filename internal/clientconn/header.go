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

package clientconn

import "strings"

// HeaderField is a single request header line.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered multimap of request headers.
//
// Names are compared case-insensitively; the original case and order are preserved.
type Header []HeaderField

// Add appends a header field.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Get returns the value of the first field with the given name, or an empty string.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}

	return ""
}

// Values returns values of all fields with the given name in order.
func (h Header) Values(name string) []string {
	var res []string

	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			res = append(res, f.Value)
		}
	}

	return res
}

// Has returns true if there is at least one field with the given name.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}

	return false
}
