// Copyright 2026 Strand Authors
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

package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateArguments checks call arguments against a tool's object-typed
// JSON Schema. A violation is reported as an error the dispatcher turns
// into tool-complete{success:false}; it is never fatal.
func ValidateArguments(schema map[string]any, args map[string]any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("unusable parameter schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("arguments.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("unusable parameter schema: %w", err)
	}
	compiled, err := compiler.Compile("arguments.json")
	if err != nil {
		return fmt.Errorf("unusable parameter schema: %w", err)
	}

	// Round-trip so validation sees plain JSON types regardless of how
	// the argument map was built.
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments not serialisable: %w", err)
	}
	var v any
	if err := json.Unmarshal(rawArgs, &v); err != nil {
		return fmt.Errorf("arguments not serialisable: %w", err)
	}

	if err := compiled.Validate(v); err != nil {
		return err
	}
	return nil
}
