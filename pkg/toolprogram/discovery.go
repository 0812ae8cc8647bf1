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

package toolprogram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HelloEveryboby/Butler/pkg/model"
)

const manifestFileName = "program.json"

// Discovered pairs a parsed manifest with the directory it lives in.
type Discovered struct {
	Dir      string
	Manifest *model.Manifest
}

// Discover walks programsDir for subdirectories containing a
// program.json manifest (spec §4.1, §6 program manifest JSON).
func Discover(programsDir string) ([]Discovered, error) {
	entries, err := os.ReadDir(programsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading programs dir %q: %w", programsDir, err)
	}

	var found []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(programsDir, entry.Name())
		manifestPath := filepath.Join(dir, manifestFileName)
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading manifest %q: %w", manifestPath, err)
		}

		var m model.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest %q: %w", manifestPath, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %q: %w", manifestPath, err)
		}
		found = append(found, Discovered{Dir: dir, Manifest: &m})
	}
	return found, nil
}
