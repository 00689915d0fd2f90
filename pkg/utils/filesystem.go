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

// Package utils provides small filesystem utilities shared across noface.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureStateDir ensures the .noface directory exists at the given project
// root. If root is empty or ".", it creates ./.noface in the current
// directory. Otherwise it creates {root}/.noface.
//
// This is where the orchestrator keeps everything it owns: the state
// snapshot, its backup and temp file, and (as cmd/noface wires it) the
// workspaces/ directory under which worker workspaces are created.
func EnsureStateDir(root string) (string, error) {
	var dir string
	if root == "" || root == "." {
		dir = ".noface"
	} else {
		dir = filepath.Join(root, ".noface")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory at %q: %w", dir, err)
	}

	return dir, nil
}
