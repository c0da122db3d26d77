package innertube

import (
	"crypto/sha1" //nolint:gosec // the upstream defines SAPISIDHASH over SHA-1
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sapisid returns the SAPISID (or __Secure-3PAPISID) value from a raw Cookie header.
func sapisid(cookie string) string {
	if cookie == "" {
		return ""
	}
	header := http.Header{"Cookie": []string{cookie}}
	req := http.Request{Header: header}

	var secure string
	for _, c := range req.Cookies() {
		switch c.Name {
		case "SAPISID":
			return c.Value
		case "__Secure-3PAPISID":
			secure = c.Value
		}
	}
	return secure
}

// sapisidHash builds the Authorization header value for an authenticated request from origin.
func sapisidHash(sid, origin string, now time.Time) string {
	ts := now.Unix()
	sum := sha1.Sum([]byte(fmt.Sprintf("%d %s %s", ts, sid, strings.TrimRight(origin, "/")))) //nolint:gosec
	return fmt.Sprintf("SAPISIDHASH %d_%s", ts, hex.EncodeToString(sum[:]))
}
