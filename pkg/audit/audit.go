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

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/avast/retry-go"

	"github.com/fivexl/sso-elevator/pkg/apis"
	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	"github.com/fivexl/sso-elevator/pkg/logging"
)

const writeAttempts = 3

// Writer appends audit records under a date-partitioned prefix. The bucket is
// expected to carry object lock, the writer side of the contract is that it
// only ever issues PUTs with collision-free names.
type Writer struct {
	s3api  sdk.S3API
	bucket string
	prefix string
}

func NewWriter(s3api sdk.S3API, bucket, prefix string) *Writer {
	return &Writer{
		s3api:  s3api,
		bucket: bucket,
		prefix: prefix,
	}
}

// Key returns the object name for a record: date partition, request id, and
// a nanosecond component so concurrent writers never collide.
func (w *Writer) Key(record apis.AuditRecord) string {
	ts := record.Timestamp
	return fmt.Sprintf("%s/%s/%s-%d.json", w.prefix, ts.UTC().Format("2006/01/02"), record.RequestID, ts.UnixNano())
}

// Write stamps and appends a record, retrying transient storage errors.
func (w *Writer) Write(ctx context.Context, record apis.AuditRecord) error {
	record.Version = apis.AuditRecordVersion
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling audit record, %w", err)
	}
	key := w.Key(record)
	err = retry.Do(func() error {
		_, err := w.s3api.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	}, retry.Context(ctx), retry.Attempts(writeAttempts), retry.LastErrorOnly(true))
	if err != nil {
		return fmt.Errorf("writing audit record %q, %w", key, err)
	}
	return nil
}

// TryWrite is Write for paths where the business action must not be rolled
// back on audit loss. Exhausted retries are logged for operator attention and
// swallowed.
func (w *Writer) TryWrite(ctx context.Context, record apis.AuditRecord) {
	if err := w.Write(ctx, record); err != nil {
		logging.FromContext(ctx).Errorw("audit record lost", "request_id", record.RequestID, "error", err)
	}
}
