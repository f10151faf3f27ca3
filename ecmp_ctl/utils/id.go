/*
 * Copyright 2024-present Open Networking Foundation
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"os"

	"github.com/google/uuid"
)

// CreateInstanceID returns the controller instance id: the hostname when set, a UUID otherwise
func CreateInstanceID() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return uuid.New().String()
}

// CreateBatchID produces an id used to correlate the log lines of one rule batch
func CreateBatchID() string {
	return uuid.New().String()
}
