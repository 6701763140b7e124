// Package envelope implements the AES-encrypted JSON-over-HTTP handshake
// used to validate a candidate ROM against the vendor's signing server
// and obtain a one-shot sideload token.
package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Has-X/Sensitivity/pkg/device"
	log "github.com/Has-X/Sensitivity/pkg/logging"
)

const userAgent = "MiTunes_UserAgent_v3.0"

// Client posts validation requests to a single vendor server URL.
type Client struct {
	ServerURL  string
	HTTPClient *http.Client

	// DumpJSON, when set, prints the server's decrypted response verbatim
	// to stdout, for debugging against a validation server (--dump-json).
	DumpJSON bool
}

// New builds a Client with the vendor's documented 30s request timeout.
func New(serverURL string) *Client {
	return &Client{
		ServerURL:  serverURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Token is what a successful validation grants: a one-shot sideload
// token, whether the server demands a data wipe first, and (when the
// server supplies them) the canonical ROM URL/MD5 for this device.
type Token struct {
	Token        string
	WipeRequired bool
	RomURL       string
	ExpectedMD5  string
}

type responseBody struct {
	Signup json.RawMessage `json:"Signup"`
	PkgRom *struct {
		Md5  string `json:"Md5"`
		Url  string `json:"Url"`
		Name string `json:"Name"`
	} `json:"PkgRom"`
	Validate  string `json:"Validate"`
	EraseFlag *bool  `json:"erase_flag"`
	Code      string `json:"code"`
}

func (r responseBody) signupTruthy() bool {
	if len(r.Signup) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(r.Signup, &b); err == nil {
		return b
	}
	var n float64
	if err := json.Unmarshal(r.Signup, &n); err == nil {
		return n != 0
	}
	return false
}

// buildRequestJSON assembles the vendor's flat validation JSON from a
// device identity plus the candidate ROM's MD5 (spec §4.E). Every field is
// marshaled for proper escaping except options.zone, which is spliced in
// verbatim and unquoted, matching the vendor C client's own idiosyncrasy of
// sending a bare token like F instead of "F" (original_source's
// validate.rs builds the same request by hand for the same reason).
func buildRequestJSON(info device.Info, md5 string) ([]byte, error) {
	quote := func(s string) (string, error) {
		b, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("envelope: %w", err)
		}
		return string(b), nil
	}

	d, err := quote(info.Device)
	if err != nil {
		return nil, err
	}
	v, err := quote(info.Version)
	if err != nil {
		return nil, err
	}
	c, err := quote(info.Codebase)
	if err != nil {
		return nil, err
	}
	br, err := quote(info.Branch)
	if err != nil {
		return nil, err
	}
	sn, err := quote(info.SN)
	if err != nil {
		return nil, err
	}
	pkg, err := quote(md5)
	if err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf(
		`{"d":%s,"v":%s,"c":%s,"b":%s,"sn":%s,"l":"en-US","f":"1","options":{"zone":%s},"pkg":%s}`,
		d, v, c, br, sn, info.RomZone, pkg,
	)), nil
}

// Validate posts info + md5 to the vendor server and returns a sideload
// Token on success, or a *RejectedError carrying the server's code.
func (c *Client) Validate(ctx context.Context, info device.Info, md5 string) (Token, error) {
	reqJSON, err := buildRequestJSON(info, md5)
	if err != nil {
		return Token{}, fmt.Errorf("envelope: building request: %w", err)
	}

	encoded, err := encryptToBase64(reqJSON)
	if err != nil {
		return Token{}, err
	}

	form := url.Values{"q": {encoded}, "t": {""}, "s": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("envelope: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("envelope: server request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("envelope: reading server response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		head := respBytes
		if len(head) > 200 {
			head = head[:200]
		}
		return Token{}, fmt.Errorf("envelope: server returned HTTP %d: %x", resp.StatusCode, head)
	}
	if len(strings.TrimSpace(string(respBytes))) == 0 {
		return Token{}, fmt.Errorf("%w: empty response body", ErrBadEnvelopeBody)
	}

	plain, err := decryptFromBase64(strings.TrimSpace(string(respBytes)))
	if err != nil {
		return Token{}, err
	}

	jsonText, ok := extractJSONObject(string(plain))
	if !ok {
		return Token{}, fmt.Errorf("%w: no JSON object in %d decrypted bytes", ErrBadEnvelopeBody, len(plain))
	}
	if c.DumpJSON {
		fmt.Println(jsonText)
	}

	var parsed responseBody
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrBadEnvelopeBody, err)
	}

	if !parsed.signupTruthy() || parsed.Validate == "" {
		code := parsed.Code
		if code == "" {
			code = "unknown"
		}
		return Token{}, &RejectedError{Message: code}
	}

	tok := Token{Token: parsed.Validate}
	if parsed.EraseFlag != nil {
		tok.WipeRequired = *parsed.EraseFlag
	}
	if parsed.PkgRom != nil {
		tok.RomURL = parsed.PkgRom.Url
		tok.ExpectedMD5 = parsed.PkgRom.Md5
	}

	log.Debugf("envelope: validation granted token, wipe_required=%v", tok.WipeRequired)
	return tok, nil
}
