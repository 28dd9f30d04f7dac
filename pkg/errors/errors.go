/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"errors"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

const (
	AccessDeniedCode          = "AccessDenied"
	AccessDeniedExceptionCode = "AccessDeniedException"
)

var (
	// This is not an exhaustive list, add to it as needed
	notFoundErrorCodes = []string{
		"ResourceNotFoundException",
		"NotFoundException",
		"NoSuchKey",
		"NoSuchBucket",
	}
	alreadyExistsErrorCodes = []string{
		"ConflictException",
		"EntityAlreadyExistsException",
	}
	accessDeniedErrorCodes = []string{
		AccessDeniedCode,
		AccessDeniedExceptionCode,
		"UnauthorizedException",
	}
	throttledErrorCodes = []string{
		"ThrottlingException",
		"Throttling",
		"TooManyRequestsException",
		"RequestLimitExceeded",
	}
)

// IsNotFound returns true if the err is an AWS error (even if it's
// wrapped) and is known to mean "not found" (as opposed to a more
// serious or unexpected error)
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(notFoundErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IgnoreNotFound swallows "not found" errors and passes everything else through.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}

// IsAlreadyExists returns true if the err is an AWS error (even if it's
// wrapped) and is known to mean the resource already exists
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(alreadyExistsErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IgnoreAlreadyExists swallows "already exists" errors and passes everything else through.
func IgnoreAlreadyExists(err error) error {
	if IsAlreadyExists(err) {
		return nil
	}
	return err
}

// IsAccessDenied returns true if the error is an AWS error (even if it's
// wrapped) and is known to mean "access denied" (as opposed to a more
// serious or unexpected error)
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(accessDeniedErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IsThrottled returns true if the error is an AWS throttling error, which is
// retryable above the SDK's own retryer.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(throttledErrorCodes, apiErr.ErrorCode())
	}
	return false
}
