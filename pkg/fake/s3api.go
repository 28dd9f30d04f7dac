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

package fake

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
)

// S3Behavior must be reset between tests otherwise tests will
// pollute each other.
type S3Behavior struct {
	GetObjectBehavior MockedFunction[s3.GetObjectInput, s3.GetObjectOutput]
	PutObjectBehavior MockedFunction[s3.PutObjectInput, s3.PutObjectOutput]
}

// S3API keeps an in-memory object map behind the mockable behaviors, so the
// default transformers behave like a real bucket: GetObject of a missing key
// is NoSuchKey, PutObject stores bytes. There is deliberately no delete.
type S3API struct {
	sdk.S3API
	S3Behavior

	mu      sync.Mutex
	objects map[string][]byte
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (f *S3API) Reset() {
	f.GetObjectBehavior.Reset()
	f.PutObjectBehavior.Reset()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = nil
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// StoreObject seeds the in-memory bucket.
func (f *S3API) StoreObject(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
}

// Object returns the stored bytes and whether the key exists.
func (f *S3API) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey(bucket, key)]
	return data, ok
}

// Keys returns every stored key under the bucket.
func (f *S3API) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		if len(k) > len(bucket) && k[:len(bucket)+1] == bucket+"/" {
			out = append(out, k[len(bucket)+1:])
		}
	}
	return out
}

func (f *S3API) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.GetObjectBehavior.Invoke(input, func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		data, ok := f.Object(aws.ToString(in.Bucket), aws.ToString(in.Key))
		if !ok {
			return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
		}
		return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
	})
}

func (f *S3API) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if input.Body != nil {
		var err error
		if data, err = io.ReadAll(input.Body); err != nil {
			return nil, err
		}
	}
	// the body is drained up front so the recorded input stays JSON-clonable
	recorded := *input
	recorded.Body = nil
	return f.PutObjectBehavior.Invoke(&recorded, func(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		f.StoreObject(aws.ToString(in.Bucket), aws.ToString(in.Key), data)
		return &s3.PutObjectOutput{}, nil
	})
}
