package envelope

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Has-X/Sensitivity/pkg/device"
)

func TestAESRoundTrip(t *testing.T) {
	msg := []byte(`{"hello":"world"}`)
	enc, err := encryptToBase64(msg)
	if err != nil {
		t.Fatalf("encryptToBase64: %v", err)
	}
	dec, err := decryptFromBase64(enc)
	if err != nil {
		t.Fatalf("decryptFromBase64: %v", err)
	}
	if string(dec) != string(msg) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, msg)
	}
}

func TestBuildRequestJSONZoneUnquoted(t *testing.T) {
	body, err := buildRequestJSON(device.Info{Device: "garnet", RomZone: "F"}, "deadbeef")
	if err != nil {
		t.Fatalf("buildRequestJSON: %v", err)
	}
	if !strings.Contains(string(body), `"options":{"zone":F}`) {
		t.Fatalf("expected unquoted zone, got %s", body)
	}
}

func TestExtractJSONObjectTolerant(t *testing.T) {
	got, ok := extractJSONObject(`garbage{"Signup":1,"Validate":"tok"}trailing`)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got != `{"Signup":1,"Validate":"tok"}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONObjectNoBraces(t *testing.T) {
	if _, ok := extractJSONObject("no json here"); ok {
		t.Fatal("expected extraction to fail")
	}
}

// serverResponding returns an httptest.Server that checks the request body
// parses as a form, ignores its contents, and replies with the encrypted
// plaintext given.
func serverResponding(t *testing.T, plaintext string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := url.ParseQuery(string(body)); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		enc, err := encryptToBase64([]byte(plaintext))
		if err != nil {
			t.Fatalf("encrypting fixture response: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(enc))
	}))
}

func TestValidateSuccess(t *testing.T) {
	srv := serverResponding(t, `{"Signup":1,"Validate":"abc123","erase_flag":true,"PkgRom":{"Md5":"deadbeef","Url":"https://example/rom.zip"}}`)
	defer srv.Close()

	c := New(srv.URL)
	tok, err := c.Validate(context.Background(), device.Info{Device: "garnet"}, "deadbeef")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tok.Token != "abc123" || !tok.WipeRequired || tok.ExpectedMD5 != "deadbeef" {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestValidateRejected(t *testing.T) {
	srv := serverResponding(t, `{"Signup":0,"code":"erase"}`)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Validate(context.Background(), device.Info{Device: "garnet"}, "deadbeef")
	var re *RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
	if re.Message != "erase" {
		t.Fatalf("Message = %q, want erase", re.Message)
	}
}

func TestValidateEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Validate(context.Background(), device.Info{}, "")
	if err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestBadEnvelopeKeyLength(t *testing.T) {
	t.Setenv("SENSITIVITY_AES_KEY", "not32hex")
	if _, err := encryptToBase64([]byte("x")); !errors.Is(err, ErrBadEnvelopeKey) {
		t.Fatalf("expected ErrBadEnvelopeKey, got %v", err)
	}
}

func TestGoodEnvelopeKeyOverride(t *testing.T) {
	t.Setenv("SENSITIVITY_AES_KEY", arbitraryHex32Key())
	enc, err := encryptToBase64([]byte("override test"))
	if err != nil {
		t.Fatalf("encryptToBase64 with overridden key: %v", err)
	}
	dec, err := decryptFromBase64(enc)
	if err != nil {
		t.Fatalf("decryptFromBase64: %v", err)
	}
	if string(dec) != "override test" {
		t.Fatalf("got %q", dec)
	}
}

func arbitraryHex32Key() string {
	// 16 arbitrary bytes, hex-encoded to exactly 32 characters.
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range raw {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}
