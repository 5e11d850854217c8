package blobstore

import (
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const amzDateLayout = "20060102T150405Z"

// gcsTransport signs every request a second time with Accept-Encoding
// removed. GCS interoperability mode verifies that header while the sdk
// signer leaves it out.
type gcsTransport struct {
	base   http.RoundTripper
	signer *v4.Signer
	creds  aws.CredentialsProvider
	region string
}

func newGcsTransport(awsConf aws.Config) *gcsTransport {
	return &gcsTransport{
		base:   http.DefaultTransport,
		signer: v4.NewSigner(),
		creds:  awsConf.Credentials,
		region: awsConf.Region,
	}
}

func (t *gcsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	encoding := req.Header.Get("Accept-Encoding")
	req.Header.Del("Accept-Encoding")

	signedAt, _ := time.Parse(amzDateLayout, req.Header.Get("X-Amz-Date"))
	creds, err := t.creds.Retrieve(ctx)
	if err != nil {
		return nil, err
	}
	if err = t.signer.SignHTTP(ctx, creds, req, v4.GetPayloadHash(ctx), "s3", t.region, signedAt); err != nil {
		return nil, err
	}
	if encoding != "" {
		req.Header.Set("Accept-Encoding", encoding)
	}
	return t.base.RoundTrip(req)
}
