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

package options

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestOptions(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Options")
}

func requiredArgs() []string {
	return []string{
		"--sso-instance-arn", "arn:aws:sso:::instance/ssoins-0000000000000000",
		"--identity-store-id", "d-0000000000",
		"--config-bucket", "config-bucket",
		"--audit-bucket", "audit-bucket",
		"--revoker-function-arn", "arn:aws:lambda:us-east-1:000000000000:function:revoker",
		"--scheduler-role-arn", "arn:aws:iam::000000000000:role/scheduler",
		"--slack-bot-token", "xoxb-test",
		"--slack-signing-secret", "secret",
		"--slack-channel-id", "C123456",
	}
}

func parsed(extra ...string) *Options {
	opts := New()
	Expect(opts.Parse(append(requiredArgs(), extra...))).To(Succeed())
	opts.setSecondaryDomains()
	return opts
}

var _ = Describe("Validate", func() {
	It("should accept a fully specified configuration", func() {
		Expect(parsed().Validate()).To(Succeed())
	})

	It("should reject a missing required field", func() {
		opts := New()
		Expect(opts.Parse(requiredArgs()[2:])).To(Succeed())
		Expect(opts.Validate()).To(MatchError(ContainSubstring("SSOInstanceARN")))
	})

	It("should reject an unknown log level", func() {
		Expect(parsed("--log-level", "verbose").Validate()).
			To(MatchError(ContainSubstring("LogLevel")))
	})

	It("should reject an out-of-range port", func() {
		Expect(parsed("--http-port", "70000").Validate()).
			To(MatchError(ContainSubstring("HTTPPort")))
	})

	It("should reject a non-positive maximum duration", func() {
		Expect(parsed("--max-permissions-duration-hours", "0").Validate()).
			To(MatchError(ContainSubstring("MaxPermissionsDurationHours")))
	})

	It("should reject a backoff multiplier below one", func() {
		Expect(parsed("--approver-renotification-backoff-multiplier", "0.5").Validate()).
			To(MatchError(ContainSubstring("ApproverRenotificationBackoffMultiplier")))
	})

	It("should reject a malformed sweep scope entry", func() {
		Expect(parsed("--reconciler-sweep-scope", "111111111111,nope").Validate()).
			To(MatchError(ContainSubstring("12-digit account id")))
	})

	It("should reject an unknown sync policy", func() {
		Expect(parsed("--sync-policy", "delete").Validate()).
			To(MatchError(ContainSubstring("SyncPolicy")))
	})

	It("should reject a fallback domain that is not a domain", func() {
		Expect(parsed("--secondary-fallback-email-domains", "corp.example,not a domain").Validate()).
			To(MatchError(ContainSubstring("SecondaryFallbackEmailDomains")))
	})
})

var _ = Describe("SweepScope", func() {
	It("should return nil when unset, meaning every account", func() {
		Expect(parsed().SweepScope()).To(BeNil())
	})

	It("should split and trim the configured account ids", func() {
		opts := parsed("--reconciler-sweep-scope", "111111111111, 222222222222")
		Expect(opts.SweepScope()).To(Equal([]string{"111111111111", "222222222222"}))
	})
})

var _ = Describe("Secondary domains", func() {
	It("should split the raw flag into trimmed entries", func() {
		opts := parsed("--secondary-fallback-email-domains", "corp.example, contractor.example")
		Expect(opts.SecondaryFallbackEmailDomains).To(Equal([]string{"corp.example", "contractor.example"}))
	})

	It("should leave the list empty when the flag is blank", func() {
		Expect(parsed().SecondaryFallbackEmailDomains).To(BeNil())
	})
})
