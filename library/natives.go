// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package library

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// maxRandomBytes caps a single random-bytes request from a script.
const maxRandomBytes = 1 << 16

// Natives is the host object behind the bundled libraries: encodings, hashes,
// ciphers, random bytes, UUIDs and JWTs. Binary data crosses the bridge as hex.
type Natives struct{}

// NewNatives returns the natives host object.
func NewNatives() *Natives { return &Natives{} }

func (n *Natives) Kind() string { return "lib" }

func (n *Natives) Invoke(method string, args []any) (any, error) {
	switch method {
	case "convert":
		return convert(str(args, 0), str(args, 1), str(args, 2))
	case "hash":
		return hashHex(str(args, 0), str(args, 1), num(args, 2))
	case "hmac":
		return hmacHex(str(args, 0), str(args, 1), str(args, 2))
	case "pbkdf2":
		return pbkdf2Hex(str(args, 0), str(args, 1), num(args, 2), num(args, 3), str(args, 4))
	case "evpKDF":
		return evpKDF(str(args, 0), str(args, 1), num(args, 2), num(args, 3))
	case "aesEncrypt":
		return aesCrypt(true, str(args, 0), str(args, 1), str(args, 2), str(args, 3), str(args, 4))
	case "aesDecrypt":
		return aesCrypt(false, str(args, 0), str(args, 1), str(args, 2), str(args, 3), str(args, 4))
	case "randomBytes":
		return randomHex(num(args, 0))
	case "uuid":
		return uuid.NewString(), nil
	case "jwtSign":
		return jwtSign(argAt(args, 0), str(args, 1), mapArg(args, 2))
	case "jwtVerify":
		return jwtVerify(str(args, 0), str(args, 1), mapArg(args, 2))
	case "jwtDecode":
		return jwtDecode(str(args, 0))
	}
	return nil, fmt.Errorf("lib has no method %q", method)
}

// Modules is the host object behind require: it hands module sources to the runtime.
type Modules struct {
	loader *Loader
}

// NewModules wraps loader.
func NewModules(loader *Loader) *Modules {
	return &Modules{loader: loader}
}

func (m *Modules) Kind() string { return "modules" }

func (m *Modules) Invoke(method string, args []any) (any, error) {
	switch method {
	case "load":
		mod, err := m.loader.LoadFrom(context.Background(), str(args, 0), str(args, 1))
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": mod.ID, "source": mod.Source}, nil
	case "names":
		return m.loader.Names(), nil
	}
	return nil, fmt.Errorf("modules has no method %q", method)
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func str(args []any, i int) string {
	switch t := argAt(args, i).(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func num(args []any, i int) int {
	switch t := argAt(args, i).(type) {
	case float64:
		return int(t)
	case string:
		v, _ := strconv.Atoi(t)
		return v
	}
	return 0
}

func mapArg(args []any, i int) map[string]any {
	if m, ok := argAt(args, i).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// decode turns text in the given encoding into bytes.
func decode(data, enc string) ([]byte, error) {
	switch strings.ToLower(enc) {
	case "hex":
		return hex.DecodeString(data)
	case "base64":
		if b, err := base64.StdEncoding.DecodeString(data); err == nil {
			return b, nil
		}
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	case "base64url":
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	case "utf8", "utf-8":
		return []byte(data), nil
	case "latin1", "binary":
		out := make([]byte, 0, len(data))
		for _, r := range data {
			if r > 0xff {
				return nil, fmt.Errorf("character %q is outside latin1", r)
			}
			out = append(out, byte(r))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", enc)
}

// encode renders bytes in the given encoding.
func encode(b []byte, enc string) (string, error) {
	switch strings.ToLower(enc) {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(b), nil
	case "utf8", "utf-8":
		if !utf8.Valid(b) {
			return "", fmt.Errorf("malformed UTF-8 data")
		}
		return string(b), nil
	case "latin1", "binary":
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
		return string(runes), nil
	}
	return "", fmt.Errorf("unknown encoding %q", enc)
}

func convert(data, from, to string) (string, error) {
	b, err := decode(data, from)
	if err != nil {
		return "", err
	}
	return encode(b, to)
}

func newHash(alg string, outputBits int) (func() hash.Hash, error) {
	switch strings.ToLower(strings.ReplaceAll(alg, "-", "")) {
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha224":
		return sha256.New224, nil
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	case "sha3":
		switch outputBits {
		case 224:
			return sha3.New224, nil
		case 256:
			return sha3.New256, nil
		case 384:
			return sha3.New384, nil
		default:
			return sha3.New512, nil
		}
	case "sha3224":
		return sha3.New224, nil
	case "sha3256":
		return sha3.New256, nil
	case "sha3384":
		return sha3.New384, nil
	case "sha3512":
		return sha3.New512, nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
}

func hashHex(alg, dataHex string, outputBits int) (string, error) {
	h, err := newHash(alg, outputBits)
	if err != nil {
		return "", err
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", err
	}
	d := h()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}

func hmacHex(alg, dataHex, keyHex string) (string, error) {
	h, err := newHash(alg, 0)
	if err != nil {
		return "", err
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", err
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", err
	}
	mac := hmac.New(h, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func pbkdf2Hex(passHex, saltHex string, iterations, keyLen int, alg string) (string, error) {
	if alg == "" {
		alg = "sha1"
	}
	h, err := newHash(alg, 0)
	if err != nil {
		return "", err
	}
	if iterations <= 0 {
		iterations = 1
	}
	if keyLen <= 0 {
		keyLen = 16
	}
	pass, err := hex.DecodeString(passHex)
	if err != nil {
		return "", err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pbkdf2.Key(pass, salt, iterations, keyLen, h)), nil
}

// evpKDF derives a key and IV from a passphrase the way OpenSSL's EVP_BytesToKey
// does with MD5 and one iteration; this is what passphrase-based AES uses.
func evpKDF(passHex, saltHex string, keyLen, ivLen int) (map[string]string, error) {
	pass, err := hex.DecodeString(passHex)
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, err
	}
	var derived, block []byte
	for len(derived) < keyLen+ivLen {
		d := md5.New()
		d.Write(block)
		d.Write(pass)
		d.Write(salt)
		block = d.Sum(nil)
		derived = append(derived, block...)
	}
	return map[string]string{
		"key": hex.EncodeToString(derived[:keyLen]),
		"iv":  hex.EncodeToString(derived[keyLen : keyLen+ivLen]),
	}, nil
}

func aesCrypt(encrypt bool, dataHex, keyHex, ivHex, mode, padding string) (string, error) {
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", err
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	pad := !strings.EqualFold(padding, "nopadding")
	bs := block.BlockSize()

	if encrypt && pad {
		data = pkcs7Pad(data, bs)
	}
	if len(data)%bs != 0 {
		return "", fmt.Errorf("data is not a multiple of the block size")
	}

	out := make([]byte, len(data))
	switch strings.ToUpper(mode) {
	case "", "CBC":
		iv, err := hex.DecodeString(ivHex)
		if err != nil {
			return "", err
		}
		if len(iv) != bs {
			return "", fmt.Errorf("invalid IV length %d", len(iv))
		}
		if encrypt {
			cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
		} else {
			cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
		}
	case "ECB":
		for i := 0; i < len(data); i += bs {
			if encrypt {
				block.Encrypt(out[i:i+bs], data[i:i+bs])
			} else {
				block.Decrypt(out[i:i+bs], data[i:i+bs])
			}
		}
	default:
		return "", fmt.Errorf("unsupported cipher mode %q", mode)
	}

	if !encrypt && pad {
		if out, err = pkcs7Unpad(out, bs); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, bs int) []byte {
	n := bs - len(data)%bs
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, bs int) ([]byte, error) {
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, fmt.Errorf("malformed padding")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > bs || n > len(data) {
		return nil, fmt.Errorf("malformed padding")
	}
	for _, c := range data[len(data)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("malformed padding")
		}
	}
	return data[:len(data)-n], nil
}

func randomHex(n int) (string, error) {
	if n < 0 || n > maxRandomBytes {
		return "", fmt.Errorf("random byte count %d out of range", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
