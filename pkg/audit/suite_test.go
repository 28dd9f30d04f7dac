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

package audit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/audit"
	"github.com/fivexl/sso-elevator/pkg/fake"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const bucket = "audit-bucket"

var (
	ctx    context.Context
	s3api  *fake.S3API
	writer *audit.Writer
)

func TestAudit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit")
}

var _ = BeforeSuite(func() {
	s3api = &fake.S3API{}
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	s3api.Reset()
	writer = audit.NewWriter(s3api, bucket, "audit")
})

func grantRecord(ts time.Time) apis.AuditRecord {
	return apis.AuditRecord{
		Timestamp:      ts,
		EntryType:      apis.AuditEntryAccount,
		Operation:      apis.AuditOperationGrant,
		RequestID:      "req-1",
		AccountID:      "111111111111",
		RoleName:       "ReadOnly",
		RequesterEmail: "dev@corp.example",
	}
}

var _ = Describe("Writer", func() {
	It("should write records under a date partition with a collision-free name", func() {
		ts := time.Date(2026, 3, 4, 12, 30, 0, 42, time.UTC)
		Expect(writer.Write(ctx, grantRecord(ts))).To(Succeed())

		key := fmt.Sprintf("audit/2026/03/04/req-1-%d.json", ts.UnixNano())
		data, ok := s3api.Object(bucket, key)
		Expect(ok).To(BeTrue())

		var stored apis.AuditRecord
		Expect(json.Unmarshal(data, &stored)).To(Succeed())
		Expect(stored.Version).To(Equal(apis.AuditRecordVersion))
		Expect(stored.Operation).To(Equal(apis.AuditOperationGrant))
		Expect(stored.AccountID).To(Equal("111111111111"))
	})

	It("should stamp the timestamp when the caller left it zero", func() {
		Expect(writer.Write(ctx, grantRecord(time.Time{}))).To(Succeed())

		keys := s3api.Keys(bucket)
		Expect(keys).To(HaveLen(1))

		data, _ := s3api.Object(bucket, keys[0])
		var stored apis.AuditRecord
		Expect(json.Unmarshal(data, &stored)).To(Succeed())
		Expect(stored.Timestamp.IsZero()).To(BeFalse())
	})

	It("should retry a transient storage failure", func() {
		s3api.PutObjectBehavior.Error.Set(&smithy.GenericAPIError{Code: "SlowDown"})

		ts := time.Date(2026, 3, 4, 12, 30, 0, 42, time.UTC)
		Expect(writer.Write(ctx, grantRecord(ts))).To(Succeed())
		Expect(s3api.PutObjectBehavior.Calls()).To(Equal(2))
		Expect(s3api.Keys(bucket)).To(HaveLen(1))
	})

	It("should give up once retries are exhausted", func() {
		s3api.PutObjectBehavior.Error.Set(&smithy.GenericAPIError{Code: "SlowDown"}, fake.MaxCalls(3))

		err := writer.Write(ctx, grantRecord(time.Now().UTC()))
		Expect(err).To(HaveOccurred())
		Expect(s3api.Keys(bucket)).To(BeEmpty())
	})

	It("should swallow audit loss on the TryWrite path", func() {
		s3api.PutObjectBehavior.Error.Set(&smithy.GenericAPIError{Code: "SlowDown"}, fake.MaxCalls(3))

		writer.TryWrite(ctx, grantRecord(time.Now().UTC()))
		Expect(s3api.Keys(bucket)).To(BeEmpty())
	})

	It("should never collide for distinct timestamps of the same request", func() {
		base := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
		Expect(writer.Write(ctx, grantRecord(base))).To(Succeed())
		Expect(writer.Write(ctx, grantRecord(base.Add(time.Nanosecond)))).To(Succeed())
		Expect(s3api.Keys(bucket)).To(HaveLen(2))
	})
})
