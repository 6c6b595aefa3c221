// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
)

// ParseError represents a CSV parsing or validation error
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return e.Detail
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Kinds of storage failure
const (
	StorageNotFound  = "not_found"
	StorageDuplicate = "duplicate"
	StorageInternal  = "internal"
)

// StorageError represents a storage operation error
type StorageError struct {
	Kind string
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage error during %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("storage error during %s (%s)", e.Op, e.Kind)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Stages of a sandbox query failure
const (
	SandboxValidation = "validation"
	SandboxExecution  = "execution"
)

// SandboxError represents a rejected or failed sandbox query
type SandboxError struct {
	Stage   string
	Message string
	Err     error
}

func (e *SandboxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox %s error: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("sandbox %s error: %s", e.Stage, e.Message)
}

func (e *SandboxError) Unwrap() error {
	return e.Err
}

// AuthError represents an authentication or authorization error
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authentication error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
