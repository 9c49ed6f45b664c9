/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package deploykeys generates the per-student SSH key pairs used for
// read-only repository access from build jobs.
package deploykeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// DefaultBits matches what git hosts expect from a modern RSA key.
const DefaultBits = 4096

// KeyPair holds one generated deploy key. The private key is PKCS#1
// PEM, the public key one authorized_keys line without trailing
// newline, the fingerprint the standard SHA256 form.
type KeyPair struct {
	Public      string
	Private     string
	Fingerprint string
}

// Generate creates a fresh RSA deploy key pair. bits <= 0 selects
// DefaultBits.
func Generate(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "generating rsa key")
	}

	private := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	public, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "encoding public key")
	}

	return &KeyPair{
		Public:      strings.TrimSpace(string(ssh.MarshalAuthorizedKey(public))),
		Private:     string(private),
		Fingerprint: ssh.FingerprintSHA256(public),
	}, nil
}
