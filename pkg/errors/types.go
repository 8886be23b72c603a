// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured, categorised errors for the pipeline
// control plane, mirroring the error-kind table of the pipeline's error
// handling design: configuration errors, resource-policy errors, cluster
// adapter errors and chat-notification errors.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents structured error codes for the control plane.
type ErrorCode string

const (
	// Configuration errors - fail-fast at startup.
	ErrorCodeMissingField        ErrorCode = "MISSING_FIELD"
	ErrorCodeInvalidValue        ErrorCode = "INVALID_VALUE"
	ErrorCodeMutuallyExclusive   ErrorCode = "MUTUALLY_EXCLUSIVE"
	ErrorCodeMissingCondaEnv     ErrorCode = "MISSING_CONDA_ENV"

	// Resource policy errors - converted to a pre-failed work package.
	ErrorCodePolicyPathMissing   ErrorCode = "POLICY_PATH_MISSING"
	ErrorCodePolicyPathUnreadable ErrorCode = "POLICY_PATH_UNREADABLE"
	ErrorCodePolicyNoMatch       ErrorCode = "POLICY_NO_MATCH"

	// Cluster adapter errors - a non-zero CLI exit or unparsable output.
	ErrorCodeClusterSubmitFailed ErrorCode = "CLUSTER_SUBMIT_FAILED"
	ErrorCodeClusterStatusFailed ErrorCode = "CLUSTER_STATUS_FAILED"
	ErrorCodeClusterCancelFailed ErrorCode = "CLUSTER_CANCEL_FAILED"
	ErrorCodeClusterBadDuration  ErrorCode = "CLUSTER_BAD_DURATION"

	// Chat notification errors - logged and swallowed, never propagate.
	ErrorCodeChatSendFailed   ErrorCode = "CHAT_SEND_FAILED"
	ErrorCodeChatUpdateFailed ErrorCode = "CHAT_UPDATE_FAILED"

	// Unknown or unclassified errors.
	ErrorCodeUnknown ErrorCode = "UNKNOWN"
)

// ErrorCategory groups related error codes for easier handling.
type ErrorCategory string

const (
	CategoryConfig  ErrorCategory = "CONFIG"
	CategoryPolicy  ErrorCategory = "POLICY"
	CategoryCluster ErrorCategory = "CLUSTER"
	CategoryChat    ErrorCategory = "CHAT"
	CategoryUnknown ErrorCategory = "UNKNOWN"
)

// PipelineError is a structured error carrying enough context for the CLI
// and logs to branch on without parsing message strings.
type PipelineError struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Retryable bool          `json:"retryable"`
	Cause     error         `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a specific error code.
func (e *PipelineError) Is(target error) bool {
	if targetErr, ok := target.(*PipelineError); ok {
		return e.Code == targetErr.Code
	}
	return false
}

// IsRetryable returns true if the operation that produced this error can
// be retried unchanged. Neither the cluster adapter's retry wrapper, which
// retries every failed sacct/scancel/squeue call, nor the scheduler's
// resource-backoff retries consult it.
func (e *PipelineError) IsRetryable() bool {
	return e.Retryable
}

// ConfigError represents job-configuration validation failures.
type ConfigError struct {
	*PipelineError
	Field string `json:"field,omitempty"`
}

// PolicyError represents resource-policy resolution failures.
type PolicyError struct {
	*PipelineError
	Path string `json:"path,omitempty"`
}

// ClusterError represents failures returned by the cluster adapter.
type ClusterError struct {
	*PipelineError
	Command string `json:"command,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
}

// ChatError represents failures from the chat notification sink.
type ChatError struct {
	*PipelineError
	Channel string `json:"channel,omitempty"`
}

func newBase(code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Category:  categoryFor(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryable(code),
		Cause:     cause,
	}
}

// NewConfigError builds a ConfigError for the named field.
func NewConfigError(code ErrorCode, message, field string, cause error) *ConfigError {
	return &ConfigError{PipelineError: newBase(code, message, cause), Field: field}
}

// NewPolicyError builds a PolicyError for the resolved path.
func NewPolicyError(code ErrorCode, message, path string, cause error) *PolicyError {
	return &PolicyError{PipelineError: newBase(code, message, cause), Path: path}
}

// NewClusterError builds a ClusterError, preserving the command and its
// stderr text verbatim as the spec requires.
func NewClusterError(code ErrorCode, command, stderr string, cause error) *ClusterError {
	e := &ClusterError{PipelineError: newBase(code, "cluster command failed", cause), Command: command, Stderr: stderr}
	e.Details = stderr
	return e
}

// NewChatError builds a ChatError for the given channel.
func NewChatError(code ErrorCode, message, channel string, cause error) *ChatError {
	return &ChatError{PipelineError: newBase(code, message, cause), Channel: channel}
}

func categoryFor(code ErrorCode) ErrorCategory {
	switch code {
	case ErrorCodeMissingField, ErrorCodeInvalidValue, ErrorCodeMutuallyExclusive, ErrorCodeMissingCondaEnv:
		return CategoryConfig
	case ErrorCodePolicyPathMissing, ErrorCodePolicyPathUnreadable, ErrorCodePolicyNoMatch:
		return CategoryPolicy
	case ErrorCodeClusterSubmitFailed, ErrorCodeClusterStatusFailed, ErrorCodeClusterCancelFailed, ErrorCodeClusterBadDuration:
		return CategoryCluster
	case ErrorCodeChatSendFailed, ErrorCodeChatUpdateFailed:
		return CategoryChat
	default:
		return CategoryUnknown
	}
}

// isRetryable determines whether an error code indicates a transient
// cluster-adapter failure worth retrying with pkg/retry, as opposed to a
// terminal classification the scheduler must act on directly.
func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrorCodeClusterStatusFailed, ErrorCodeChatSendFailed, ErrorCodeChatUpdateFailed:
		return true
	default:
		return false
	}
}
