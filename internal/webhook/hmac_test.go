package webhook

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"source":"A","destination":"B"}`)
	signed := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "prefixed", body: body, signature: signed, secret: secret},
		{name: "plain hex", body: body, signature: strings.TrimPrefix(signed, "sha256="), secret: secret},
		{name: "tampered body", body: []byte(`{"source":"A","destination":"C"}`), signature: signed, secret: secret, wantErr: true},
		{name: "wrong secret", body: body, signature: signed, secret: "other", wantErr: true},
		{name: "zeroes", body: body, signature: "sha256=" + strings.Repeat("0", 64), secret: secret, wantErr: true},
		{name: "not hex", body: body, signature: "sha256=zzzz", secret: secret, wantErr: true},
		{name: "empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "empty secret", body: body, signature: signed, secret: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Error() != "webhook verification failed" {
				t.Errorf("error leaks detail: %q", err.Error())
			}
		})
	}
}

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte("x"), "k")
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Fatalf("Sign() = %q", sig)
	}
}
