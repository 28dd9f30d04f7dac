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

package notifications

import (
	"bytes"
	"io"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/fivexl/sso-elevator/pkg/logging"
)

// SignatureMiddleware rejects any inbound chat event whose signature does not
// verify against the signing secret. Verification happens before any handler
// runs, nothing unsigned reaches a state transition.
func SignatureMiddleware(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verifier, err := slack.NewSecretsVerifier(r.Header, signingSecret)
			if err != nil {
				logging.FromContext(r.Context()).Warnw("rejecting request without signature headers", "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if _, err := verifier.Write(body); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if err := verifier.Ensure(); err != nil {
				logging.FromContext(r.Context()).Warnw("rejecting request with invalid signature")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
