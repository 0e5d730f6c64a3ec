//  Copyright 2023 Stealth Rocket, Inc.
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

package rtprof

import "errors"

// ErrConfig is returned when a configuration call is rejected: invalid
// field combinations fail the call itself rather than mutating any
// global state, per spec.md §7's ConfigError policy.
var ErrConfig = errors.New("rtprof: invalid configuration")

// ErrAlreadyStarted is returned by Start/StartAsync when the Root is
// already sampling.
var ErrAlreadyStarted = errors.New("rtprof: already started")

// ErrNotStarted is returned by Stop when the Root was never started.
var ErrNotStarted = errors.New("rtprof: not started")

// ErrSafeReaderInit is returned by Init when no SafeReader strategy
// could be established. Per spec.md §7, this is the one failure the
// design treats as fatal: "Nothing is fatal except failure to
// initialise the SafeReader, which prevents start."
var ErrSafeReaderInit = errors.New("rtprof: could not initialize a memory read strategy")
