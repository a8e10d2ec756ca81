// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

// ErrBadPassphrase is returned when an archive cannot be decrypted with
// the given passphrase.
var ErrBadPassphrase = errors.New("wrong passphrase")

// ErrNoPassphrase is returned when an encrypted archive is opened without
// a way to obtain the passphrase.
var ErrNoPassphrase = errors.New("archive is encrypted and no passphrase was provided")

var encryptConfig = &packet.Config{
	DefaultCipher:          packet.CipherAES256,
	DefaultCompressionAlgo: packet.CompressionNone,
}

// Encrypt writes src to dst as a passphrase protected OpenPGP message
// (AES-256, the equivalent of gpg --symmetric).
func Encrypt(dst io.Writer, src io.Reader, passphrase []byte) error {
	if len(passphrase) == 0 {
		return ErrNoPassphrase
	}
	w, err := openpgp.SymmetricallyEncrypt(dst, passphrase, &openpgp.FileHints{IsBinary: true}, encryptConfig)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	return nil
}

// Decrypt reverses Encrypt. The integrity check runs at the end of the
// stream, so dst must be discarded when an error is returned.
func Decrypt(dst io.Writer, src io.Reader, passphrase []byte) error {
	body, err := decryptReader(src, passphrase)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, body); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	return nil
}

// decryptReader returns the plaintext of src as a stream. The integrity
// check only happens once the stream has been read to the end.
func decryptReader(src io.Reader, passphrase []byte) (io.Reader, error) {
	asked := false
	prompt := func(_ []openpgp.Key, _ bool) ([]byte, error) {
		// ReadMessage asks again after a failed attempt.
		if asked {
			return nil, ErrBadPassphrase
		}
		asked = true
		return passphrase, nil
	}
	md, err := openpgp.ReadMessage(src, openpgp.EntityList{}, prompt, nil)
	if err != nil {
		if errors.Is(err, ErrBadPassphrase) {
			return nil, ErrBadPassphrase
		}
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return md.UnverifiedBody, nil
}

// EncryptFile encrypts src into dst, creating dst with mode 0600.
func EncryptFile(dst, src string, passphrase []byte) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	return writeFileWith(dst, func(w io.Writer) error { return Encrypt(w, in, passphrase) })
}

// DecryptFile decrypts src into dst. dst is removed on failure.
func DecryptFile(dst, src string, passphrase []byte) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	return writeFileWith(dst, func(w io.Writer) error { return Decrypt(w, in, passphrase) })
}

func writeFileWith(path string, fill func(io.Writer) error) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := fill(out); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}
