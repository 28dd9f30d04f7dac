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

package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	"github.com/fivexl/sso-elevator/pkg/logging"
)

const (
	AccountsKey             = "accounts.json"
	permissionSetsKeyPrefix = "permission_sets/"
)

// Cache backs expensive control plane listings with S3 objects. There is no
// TTL. Every read races the authoritative API call against the cached object
// and the API value always wins, so staleness is bounded by the next read.
// Cache failures are never visible to callers.
type Cache struct {
	s3api   sdk.S3API
	bucket  string
	enabled bool
}

func NewCache(s3api sdk.S3API, bucket string, enabled bool) *Cache {
	return &Cache{
		s3api:   s3api,
		bucket:  bucket,
		enabled: enabled,
	}
}

// PermissionSetKey returns the object key for a permission set listing. ARN
// separators are flattened so the key stays a single path element under the
// prefix.
func PermissionSetKey(instanceARN string) string {
	escaped := strings.NewReplacer("/", "_", ":", "_").Replace(instanceARN)
	return permissionSetsKeyPrefix + escaped + ".json"
}

// Resolve returns the value of fetch, using the cached object under key to
// survive API outages. The API call and the cache read run concurrently.
//
//   - both succeed and agree: return the API value, no write
//   - both succeed and differ: return the API value, write through
//   - API succeeds, cache missing or failed: return the API value, write through
//   - API fails, cache succeeds: return the cached value and warn
//   - both fail: propagate the API error
func Resolve[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error)) (T, error) {
	if !c.enabled {
		return fetch(ctx)
	}

	var apiValue, cachedValue T
	var apiErr, cacheErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		apiValue, apiErr = fetch(gctx)
		return nil
	})
	g.Go(func() error {
		cachedValue, cacheErr = read[T](gctx, c, key)
		return nil
	})
	// errors are collected out of band so one side never cancels the other
	_ = g.Wait()

	if apiErr == nil {
		if cacheErr != nil || !reflect.DeepEqual(apiValue, cachedValue) {
			c.write(ctx, key, apiValue)
		}
		return apiValue, nil
	}
	if cacheErr == nil {
		logging.FromContext(ctx).Warnw("serving cached value, API listing failed",
			"key", key, "error", apiErr)
		return cachedValue, nil
	}
	var zero T
	return zero, fmt.Errorf("listing with no usable cache fallback, %w", apiErr)
}

func read[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var value T
	out, err := c.s3api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return value, fmt.Errorf("getting cache object %q, %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return value, fmt.Errorf("reading cache object %q, %w", key, err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("unmarshaling cache object %q, %w", key, err)
	}
	return value, nil
}

// write is best effort. Failures are logged and swallowed.
func (c *Cache) write(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		logging.FromContext(ctx).Warnw("marshaling cache object", "key", key, "error", err)
		return
	}
	if _, err := c.s3api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		logging.FromContext(ctx).Warnw("writing cache object", "key", key, "error", err)
	}
}
