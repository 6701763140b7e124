package miflash

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Has-X/Sensitivity/pkg/device"
	"github.com/Has-X/Sensitivity/pkg/envelope"
)

// vendor default AES-128-CBC key/iv, duplicated here (not exported by
// pkg/envelope) so the test fixture server can encrypt fixture replies.
var (
	fixtureKey = []byte{0x6D, 0x69, 0x75, 0x69, 0x6F, 0x74, 0x61, 0x76, 0x61, 0x6C, 0x69, 0x64, 0x65, 0x64, 0x31, 0x31}
	fixtureIV  = []byte{0x30, 0x31, 0x30, 0x32, 0x30, 0x33, 0x30, 0x34, 0x30, 0x35, 0x30, 0x36, 0x30, 0x37, 0x30, 0x38}
)

func fixtureEncrypt(t *testing.T, plaintext string) string {
	t.Helper()
	block, err := aes.NewCipher(fixtureKey)
	if err != nil {
		t.Fatal(err)
	}
	buf := []byte(plaintext)
	padLen := aes.BlockSize - len(buf)%aes.BlockSize
	for i := 0; i < padLen; i++ {
		buf = append(buf, byte(padLen))
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, fixtureIV).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out)
}

// sequencedServer replies with fixtures[callCount] on each request,
// clamped to the last entry once exhausted.
func sequencedServer(t *testing.T, fixtures []string) *httptest.Server {
	t.Helper()
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := url.ParseQuery(string(body)); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		idx := calls
		if idx >= len(fixtures) {
			idx = len(fixtures) - 1
		}
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(fixtureEncrypt(t, fixtures[idx])))
	}))
}

func TestValidateWithRetrySucceedsOnSecondAttemptWithWipe(t *testing.T) {
	srv := sequencedServer(t, []string{
		`{"Signup":0,"code":"erase"}`,
		`{"Signup":1,"Validate":"tok-after-wipe","erase_flag":true}`,
	})
	defer srv.Close()

	env := envelope.New(srv.URL)
	tok, err := validateWithRetry(context.Background(), env, device.Info{Device: "garnet"}, "deadbeef", true)
	if err != nil {
		t.Fatalf("validateWithRetry: %v", err)
	}
	if tok.Token != "tok-after-wipe" {
		t.Fatalf("Token = %q, want tok-after-wipe", tok.Token)
	}
}

func TestValidateWithRetryNoRetryWithoutWipe(t *testing.T) {
	srv := sequencedServer(t, []string{
		`{"Signup":0,"code":"erase"}`,
		`{"Signup":1,"Validate":"should-not-be-reached"}`,
	})
	defer srv.Close()

	env := envelope.New(srv.URL)
	_, err := validateWithRetry(context.Background(), env, device.Info{Device: "garnet"}, "deadbeef", false)
	if err == nil {
		t.Fatal("expected ValidationRejected without a wipe retry")
	}
	me, ok := err.(*Error)
	if !ok || me.Kind != KindValidationRejected {
		t.Fatalf("expected KindValidationRejected, got %v", err)
	}
	if me.Code != "erase" {
		t.Fatalf("Code = %q, want erase", me.Code)
	}
}

func TestValidateWithRetryStillFailsAfterOneRetry(t *testing.T) {
	srv := sequencedServer(t, []string{
		`{"Signup":0,"code":"erase"}`,
		`{"Signup":0,"code":"erase"}`,
	})
	defer srv.Close()

	env := envelope.New(srv.URL)
	_, err := validateWithRetry(context.Background(), env, device.Info{Device: "garnet"}, "deadbeef", true)
	if err == nil {
		t.Fatal("expected failure after exhausting the single wipe retry")
	}
	me, ok := err.(*Error)
	if !ok || me.Kind != KindValidationRejected {
		t.Fatalf("expected KindValidationRejected, got %v", err)
	}
}

func TestKindExitCodes(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNone, 0},
		{KindUserAborted, 2},
		{KindUsbOpen, 3},
		{KindInterfaceBusy, 3},
		{KindValidationRejected, 4},
		{KindSideloadAborted, 5},
		{KindUsbIO, 1},
	}
	for _, tc := range cases {
		if got := tc.kind.ExitCode(); got != tc.want {
			t.Errorf("%s.ExitCode() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}
