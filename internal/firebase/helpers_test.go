package firebase

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = mustKey()

func mustKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}

func testServiceAccountJSON(t *testing.T, tokenURI string) []byte {
	t.Helper()
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(testKey),
	})
	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "parley-test",
		"private_key_id": "key-1",
		"private_key":    string(keyPEM),
		"client_email":   "backend@parley-test.iam.gserviceaccount.com",
		"token_uri":      tokenURI,
	})
	require.NoError(t, err)
	return data
}

func testServiceAccount(t *testing.T) *ServiceAccount {
	t.Helper()
	sa, err := ParseServiceAccount(testServiceAccountJSON(t, ""))
	require.NoError(t, err)
	return sa
}

// testCertPEM returns a self-signed certificate for testKey.
func testCertPEM(t *testing.T) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &testKey.PublicKey, testKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
