package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Inbound providers with supported signature verification.
const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
	ProviderResend   = "resend"
	ProviderSES      = "ses"
)

// svixTolerance bounds the age of a resend/svix timestamp.
const svixTolerance = 5 * time.Minute

// snsCertHost matches the only hosts a SigningCertURL may point at.
// Anything else is treated as certificate-URL spoofing.
var snsCertHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com$`)

// Verifier checks inbound webhook signatures per provider. Verification
// fails closed: unknown providers, missing headers and any parse error
// all yield false.
type Verifier struct {
	client *http.Client
	now    func() time.Time
}

// NewVerifier creates an inbound signature verifier. client is used to
// fetch SNS signing certificates; nil uses a default with a 10s timeout.
func NewVerifier(client *http.Client) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Verifier{client: client, now: time.Now}
}

// Verify reports whether the request signature is valid for the given
// provider. secret is the shared signing secret where the provider uses
// one; SES/SNS verification is certificate-based and ignores it.
func (v *Verifier) Verify(ctx context.Context, provider string, body []byte, header http.Header, secret string) bool {
	switch provider {
	case ProviderStripe:
		return v.verifyStripe(body, header, secret)
	case ProviderRazorpay:
		return v.verifyRazorpay(body, header, secret)
	case ProviderResend:
		return v.verifyResend(body, header, secret)
	case ProviderSES:
		return v.verifySNS(ctx, body)
	default:
		slog.Warn("unknown webhook provider, failing closed", "provider", provider)
		return false
	}
}

// verifyStripe checks the Stripe-Signature header: "t=<ts>,v1=<hex>".
// The signed string is "{t}.{body}".
func (v *Verifier) verifyStripe(body []byte, header http.Header, secret string) bool {
	if secret == "" {
		return false
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header.Get("Stripe-Signature"), ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}

	expected := HMACSHA256Hex(secret, fmt.Sprintf("%s.%s", ts, body))
	for _, sig := range sigs {
		if TimingSafeEqual(expected, CleanPrefixedSig(sig)) {
			return true
		}
	}
	return false
}

// verifyRazorpay checks X-Razorpay-Signature: hex HMAC of the raw body.
func (v *Verifier) verifyRazorpay(body []byte, header http.Header, secret string) bool {
	if secret == "" {
		return false
	}

	sig := CleanPrefixedSig(header.Get("X-Razorpay-Signature"))
	if sig == "" {
		return false
	}

	return TimingSafeEqual(HMACSHA256Hex(secret, string(body)), sig)
}

// verifyResend checks svix-style headers used by Resend: the signed
// string is "{svix-id}.{svix-timestamp}.{body}" and the signature is
// base64 HMAC-SHA256 under the base64-decoded "whsec_" secret. The
// signature header carries space-separated "v1,<base64>" entries.
func (v *Verifier) verifyResend(body []byte, header http.Header, secret string) bool {
	id := header.Get("svix-id")
	ts := header.Get("svix-timestamp")
	sigHeader := header.Get("svix-signature")
	if id == "" || ts == "" || sigHeader == "" {
		return false
	}

	var unix int64
	if _, err := fmt.Sscanf(ts, "%d", &unix); err != nil {
		return false
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > svixTolerance || age < -svixTolerance {
		return false
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s", id, ts, body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(sigHeader) {
		_, sig, ok := strings.Cut(entry, ",")
		if !ok {
			continue
		}
		if TimingSafeEqual(expected, sig) {
			return true
		}
	}
	return false
}

// snsEnvelope is the subset of an SNS message needed for verification.
type snsEnvelope struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL"`
}

// verifySNS verifies an SES bounce/complaint notification delivered via
// SNS: the signing certificate is fetched from an AWS-controlled HTTPS
// URL and the RSA signature is checked over the canonical string for the
// message type.
func (v *Verifier) verifySNS(ctx context.Context, body []byte) bool {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}

	if !validCertURL(env.SigningCertURL) {
		slog.Warn("sns signing cert url rejected", "url", env.SigningCertURL)
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return false
	}

	cert, err := v.fetchCert(ctx, env.SigningCertURL)
	if err != nil {
		slog.Warn("failed to fetch sns signing cert", "error", err)
		return false
	}

	algo := x509.SHA1WithRSA
	if env.SignatureVersion == "2" {
		algo = x509.SHA256WithRSA
	}

	return cert.CheckSignature(algo, canonicalSNSString(env), sig) == nil
}

// validCertURL allows only HTTPS URLs on sns.<region>.amazonaws.com.
func validCertURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && snsCertHost.MatchString(strings.ToLower(u.Hostname()))
}

func (v *Verifier) fetchCert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch cert: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read cert: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in cert response")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse cert: %w", err)
	}
	return cert, nil
}

// canonicalSNSString builds the signed string for an SNS message: the
// present fields for the message type, sorted by key, each rendered as
// "Key\nValue\n".
func canonicalSNSString(env snsEnvelope) []byte {
	fields := map[string]string{
		"Message":   env.Message,
		"MessageId": env.MessageID,
		"Timestamp": env.Timestamp,
		"TopicArn":  env.TopicArn,
		"Type":      env.Type,
	}

	switch env.Type {
	case "Notification":
		if env.Subject != "" {
			fields["Subject"] = env.Subject
		}
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		fields["SubscribeURL"] = env.SubscribeURL
		fields["Token"] = env.Token
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\n')
		b.WriteString(fields[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
