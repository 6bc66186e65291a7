package r2s3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	// emptyPayloadHash is sha256("") for requests without a body.
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// signer holds the credential scope for SigV4 header signing. Only host,
// x-amz-content-sha256 and x-amz-date are signed.
type signer struct {
	accessKeyID     string
	secretAccessKey string
	region          string
	now             func() time.Time
}

func (s signer) sign(req *http.Request, canonicalURI, payloadHash string) {
	t := s.now().UTC()
	amzDate := t.Format("20060102T150405Z")
	day := t.Format("20060102")
	host := req.URL.Host

	req.Header.Set("Host", host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	const signedHeaders = "host;x-amz-content-sha256;x-amz-date"
	var canon strings.Builder
	fmt.Fprintf(&canon, "%s\n%s\n\n", req.Method, canonicalURI)
	fmt.Fprintf(&canon, "host:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n\n", host, payloadHash, amzDate)
	fmt.Fprintf(&canon, "%s\n%s", signedHeaders, payloadHash)

	scope := day + "/" + s.region + "/" + sigV4Service + "/aws4_request"
	toSign := sigV4Algorithm + "\n" + amzDate + "\n" + scope + "\n" + sha256Hex([]byte(canon.String()))

	key := []byte("AWS4" + s.secretAccessKey)
	for _, part := range []string{day, s.region, sigV4Service, "aws4_request"} {
		key = hmacSHA256(key, []byte(part))
	}
	sig := hex.EncodeToString(hmacSHA256(key, []byte(toSign)))

	req.Header.Set("Authorization", sigV4Algorithm+
		" Credential="+s.accessKeyID+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+sig)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
