// Copyright 2025 AxonFlow
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

/*
Package logger provides structured JSON logging for deepthink components.

Each entry is a single JSON line carrying the component, instance and
container identity, plus the task id and pipeline stage it belongs to:

	log := logger.New("engine")
	log.Info(taskID, "planner", "plan normalized", map[string]interface{}{
	    "experts": 4,
	})

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"engine","instance_id":"unknown","container":"host",
	 "task_id":"task_1f0c","stage":"planner","message":"plan normalized",
	 "fields":{"experts":4}}

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: minimum level written (DEBUG, INFO, WARN, ERROR; default INFO)

Logger instances are safe for concurrent use.
*/
package logger
