// Copyright 2025 Kadir Pekel
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

package toolmodule

import (
	"fmt"
	"os"
)

// Discover lists executable regular files directly under dir, each
// naming a module by its full file name; an extension, if any, stays
// part of the name. Unlike toolprogram's manifest-based
// discovery, modules carry no build step: they are precompiled
// go-plugin binaries dropped into place by whoever installs them.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading modules dir %q: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat module %q: %w", entry.Name(), err)
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
