// Package edge signs requests bound for an IAM-protected Lambda function
// URL, the way CloudFront does for the signed deployment variant. The
// preview server uses it to put a deployed function behind local assets.
package edge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/sirupsen/logrus"
)

// Service is the signing name of function URLs
const Service = "lambda"

const functionURLSuffix = ".on.aws"

// ErrNotFunctionURL is returned when no region can be read from a host
var ErrNotFunctionURL = errors.New("host is not a lambda function URL")

// Signer applies SigV4 to outbound function URL requests
type Signer struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	now         func() time.Time
}

// NewSigner creates a signer. An empty region is read from each request's
// host instead.
func NewSigner(credentials aws.CredentialsProvider, region string) *Signer {
	return &Signer{
		credentials: aws.NewCredentialsCache(credentials),
		region:      region,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

// RegionFromHost reads the region from <id>.lambda-url.<region>.on.aws
func RegionFromHost(host string) (string, error) {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	if !strings.HasSuffix(host, functionURLSuffix) {
		return "", fmt.Errorf("%w: %s", ErrNotFunctionURL, host)
	}

	labels := strings.Split(strings.TrimSuffix(host, functionURLSuffix), ".")
	if len(labels) != 3 || labels[1] != "lambda-url" || labels[0] == "" || labels[2] == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFunctionURL, host)
	}
	return labels[2], nil
}

// Sign records the viewer host in x-forwarded-host when it is not already
// set, points the request at its URL host and signs it. The body is read to
// hash it and replaced with an equivalent reader.
func (s *Signer) Sign(ctx context.Context, req *http.Request) error {
	region := s.region
	if region == "" {
		var err error
		if region, err = RegionFromHost(req.URL.Host); err != nil {
			return err
		}
	}

	if req.Header.Get("X-Forwarded-Host") == "" && req.Host != "" && req.Host != req.URL.Host {
		req.Header.Set("X-Forwarded-Host", req.Host)
	}
	req.Host = req.URL.Host

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve credentials: %w", err)
	}
	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, Service, region, s.now()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":   req.URL.Host,
		"region": region,
		"path":   req.URL.Path,
	}).Debug("Signed function URL request")
	return nil
}

// Transport signs every request before handing it to Base
type Transport struct {
	Signer *Signer
	Base   http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	if err := t.Signer.Sign(req.Context(), clone); err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
