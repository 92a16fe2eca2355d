package platform

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"crosspost/domain/model"
)

// oauth1Signer produces RFC 5849 HMAC-SHA1 Authorization headers for the
// legacy media endpoints that still require app-level OAuth 1.0a.
type oauth1Signer struct {
	cred model.OAuth1Credential
}

// authorizationHeader signs method+URL+params. extra carries the request's
// query/form parameters that participate in the signature base string;
// multipart bodies contribute nothing.
func (s oauth1Signer) authorizationHeader(method string, rawURL string, extra url.Values, nonce string, ts time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", model.WrapError(model.KindInternal, err, "signing url is invalid")
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.cred.APIKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(ts.Unix(), 10),
		"oauth_token":            s.cred.AccessToken,
		"oauth_version":          "1.0",
	}

	// Collect oauth params, query params and extra params into one
	// percent-encoded, sorted parameter string.
	var pairs []string
	add := func(k, v string) {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	for k, v := range oauthParams {
		add(k, v)
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			add(k, v)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			add(k, v)
		}
	}
	sort.Strings(pairs)

	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" +
		percentEncode(strings.Join(pairs, "&"))

	key := percentEncode(s.cred.APISecret) + "&" + percentEncode(s.cred.AccessTokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(percentEncode(k))
		b.WriteString(`="`)
		b.WriteString(percentEncode(oauthParams[k]))
		b.WriteString(`"`)
	}
	return b.String(), nil
}

func oauthNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// percentEncode implements RFC 3986 §2.1 encoding. url.QueryEscape is not
// equivalent: it emits + for spaces.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%" + strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}
