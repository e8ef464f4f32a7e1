// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// SecurityHandler decrypts strings and streams belonging to an
// encrypted document. StandardSecurityHandler adapts cryptoEngine and
// passwordAuth (the teacher's crypto.go, folded in here trimmed to the
// decrypt-only surface this package needs: the teacher's CryptoEngine
// also encrypted, which a read-only object/xref layer never does) to
// the object/xref layer's ObjectKey addressing, and adds the V5/R6
// (AES-256) path the teacher's initEncrypt did not implement.

package pdf

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"

	"golang.org/x/text/encoding/charmap"
)

var charmapLatin1 = charmap.ISO8859_1

// ErrInvalidPassword is returned when the supplied password
// authenticates neither as the user nor as the owner password.
var ErrInvalidPassword = fmt.Errorf("encrypted PDF: invalid password")

// passwordPad is the fixed 32-byte padding PDF 32000-1:2008 §7.6.3.3
// defines for passwords shorter than 32 bytes.
var passwordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// toLatin1 converts a UTF-8 password to Latin-1 (ISO-8859-1) per PDF
// 32000-1:2008 §7.6.3.3, falling back to a best-effort byte-by-byte
// conversion on the rare password containing a character the encoder
// rejects outright.
func toLatin1(s string) []byte {
	out, err := charmapLatin1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		b := make([]byte, 0, len(s))
		for _, r := range s {
			if r < 256 {
				b = append(b, byte(r))
			} else {
				b = append(b, '?')
			}
		}
		return b
	}
	return out
}

// EncryptionVersion is the Encrypt dictionary's /V value.
type EncryptionVersion int

// EncryptionRevision is the Encrypt dictionary's /R value.
type EncryptionRevision int

const (
	Revision2 EncryptionRevision = 2 // MD5-based
	Revision3 EncryptionRevision = 3 // MD5-based with key strengthening
	Revision4 EncryptionRevision = 4 // MD5-based with access permissions
	Revision5 EncryptionRevision = 5 // SHA-256-based
	Revision6 EncryptionRevision = 6 // SHA-384/512-based
)

// EncryptionMethod is the resolved crypt filter method for R2-R4
// (MethodRC4/MethodAESV2) or the fixed method R5/R6 always use
// (MethodAESV3).
type EncryptionMethod int

const (
	MethodRC4   EncryptionMethod = 0
	MethodAESV2 EncryptionMethod = 1 // AES-128 CBC
	MethodAESV3 EncryptionMethod = 2 // AES-256 CBC
)

// PDFEncryptionInfo holds the fields of the Encrypt dictionary needed
// to authenticate a password and derive a decryption key.
type PDFEncryptionInfo struct {
	Version   EncryptionVersion
	Revision  EncryptionRevision
	Method    EncryptionMethod
	KeyLength int    // in bits
	O         []byte // Owner password hash
	U         []byte // User password hash
	P         uint32 // Permissions
	ID        []byte // Document ID
	OE        []byte // Owner encryption key (V5)
	UE        []byte // User encryption key (V5)
	Perms     []byte // Encrypted permissions (V5)
}

// cryptoEngine derives the per-object key and decrypts RC4/AESV2
// payloads for revisions 2-4. R5/R6 bypass it entirely: they decrypt
// directly with the file key (decryptAESCBCWithFileKey).
type cryptoEngine struct {
	info *PDFEncryptionInfo
	key  []byte
}

func newCryptoEngine(info *PDFEncryptionInfo) *cryptoEngine {
	return &cryptoEngine{info: info}
}

func (e *cryptoEngine) setKey(key []byte) {
	e.key = make([]byte, len(key))
	copy(e.key, key)
}

// decrypt decrypts data using the handler's resolved method.
func (e *cryptoEngine) decrypt(data []byte, objID, genID int) ([]byte, error) {
	if e.key == nil {
		return data, nil
	}
	key := e.computeObjectKey(objID, genID)
	switch e.info.Method {
	case MethodRC4:
		return e.decryptRC4(data, key)
	case MethodAESV2, MethodAESV3:
		return e.decryptAES(data, key)
	default:
		return data, fmt.Errorf("unsupported encryption method: %d", e.info.Method)
	}
}

// computeObjectKey computes the object-specific encryption key.
func (e *cryptoEngine) computeObjectKey(objID, genID int) []byte {
	h := md5.New()
	h.Write(e.key)
	h.Write([]byte{byte(objID), byte(objID >> 8), byte(objID >> 16)})
	h.Write([]byte{byte(genID), byte(genID >> 8)})

	if e.info.Method == MethodAESV2 || e.info.Method == MethodAESV3 {
		h.Write([]byte("sAlT"))
	}

	sum := h.Sum(nil)
	keyLen := len(e.key)
	if keyLen > 16 {
		keyLen = 16
	}
	return sum[:keyLen]
}

// decryptRC4 decrypts data using RC4, which is symmetric with its own
// encrypt operation.
func (e *cryptoEngine) decryptRC4(data, key []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// decryptAES decrypts data using AES-CBC with a prepended IV.
func (e *cryptoEngine) decryptAES(data, key []byte) ([]byte, error) {
	if len(data) < aes.BlockSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := data[:aes.BlockSize]
	ciphertext := data[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	return unpadPKCS7(plaintext)
}

// unpadPKCS7 removes PKCS#7 padding, rejecting a malformed pad.
func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	padding := int(data[len(data)-1])
	if padding > len(data) || padding > aes.BlockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

// passwordAuth authenticates a password using the revision-specific
// algorithm (R2-R4 MD5, R5 SHA-256, R6 SHA-384/512).
type passwordAuth struct {
	info *PDFEncryptionInfo
}

func newPasswordAuth(info *PDFEncryptionInfo) *passwordAuth {
	return &passwordAuth{info: info}
}

// authenticate tries the password as the user password first, falling
// back to the owner password.
func (pa *passwordAuth) authenticate(password string) ([]byte, error) {
	if key, err := pa.authenticateUser(password); err == nil {
		return key, nil
	}
	return pa.authenticateOwner(password)
}

func (pa *passwordAuth) authenticateOwner(password string) ([]byte, error) {
	switch pa.info.Revision {
	case Revision2, Revision3, Revision4:
		return pa.authenticateOwnerR2R4(password)
	case Revision5:
		return pa.authenticateOwnerR5(password)
	case Revision6:
		return pa.authenticateOwnerR6(password)
	default:
		return nil, fmt.Errorf("unsupported encryption revision: %d", pa.info.Revision)
	}
}

func (pa *passwordAuth) authenticateUser(password string) ([]byte, error) {
	switch pa.info.Revision {
	case Revision2, Revision3, Revision4:
		return pa.authenticateUserR2R4(password)
	case Revision5:
		return pa.authenticateUserR5(password)
	case Revision6:
		return pa.authenticateUserR6(password)
	default:
		return nil, fmt.Errorf("unsupported encryption revision: %d", pa.info.Revision)
	}
}

// authenticateUserR2R4 implements user password authentication for R2-R4.
func (pa *passwordAuth) authenticateUserR2R4(password string) ([]byte, error) {
	pw := toLatin1(password)
	h := md5.New()

	if len(pw) >= 32 {
		h.Write(pw[:32])
	} else {
		h.Write(pw)
		h.Write(passwordPad[:32-len(pw)])
	}

	h.Write(pa.info.O)
	h.Write([]byte{byte(pa.info.P), byte(pa.info.P >> 8), byte(pa.info.P >> 16), byte(pa.info.P >> 24)})
	h.Write(pa.info.ID)

	key := h.Sum(nil)

	if pa.info.Revision >= Revision3 {
		for i := 0; i < 50; i++ {
			h.Reset()
			h.Write(key[:pa.info.KeyLength/8])
			key = h.Sum(key[:0])
		}
		key = key[:pa.info.KeyLength/8]
	} else {
		key = key[:40/8]
	}

	return key, nil
}

// authenticateOwnerR2R4 uses the same algorithm as the user password
// for R2-R4: this package only ever authenticates with a caller's
// plain password, never recovers the owner password from /O.
func (pa *passwordAuth) authenticateOwnerR2R4(password string) ([]byte, error) {
	return pa.authenticateUserR2R4(password)
}

// authenticateUserR5 implements user password authentication for R5 (SHA-256).
func (pa *passwordAuth) authenticateUserR5(password string) ([]byte, error) {
	pw := toLatin1(password)

	h := sha256.New()
	h.Write(pw)
	h.Write(pa.info.U[:8]) // first 8 bytes of U is the key salt

	hashed := h.Sum(nil)

	block, err := aes.NewCipher(hashed[:16])
	if err != nil {
		return nil, err
	}
	if len(pa.info.UE)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid UE length: not full AES blocks")
	}
	ue := make([]byte, len(pa.info.UE))
	newECBDecrypter(block).CryptBlocks(ue, pa.info.UE)

	return ue[:32], nil
}

// authenticateOwnerR5 implements owner password authentication for R5.
func (pa *passwordAuth) authenticateOwnerR5(password string) ([]byte, error) {
	pw := toLatin1(password)

	h := sha256.New()
	h.Write(pw)
	h.Write(pa.info.O[:8])
	h.Write(pa.info.UE)

	hashed := h.Sum(nil)

	block, err := aes.NewCipher(hashed[:16])
	if err != nil {
		return nil, err
	}
	if len(pa.info.OE)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid OE length: not full AES blocks")
	}
	oe := make([]byte, len(pa.info.OE))
	newECBDecrypter(block).CryptBlocks(oe, pa.info.OE)

	return oe[:32], nil
}

// authenticateUserR6 implements user password authentication for R6 (SHA-384/512).
func (pa *passwordAuth) authenticateUserR6(password string) ([]byte, error) {
	pw := toLatin1(password)

	var h hash.Hash
	if pa.info.KeyLength == 256 {
		h = sha512.New384()
	} else {
		h = sha512.New()
	}

	h.Write(pw)
	h.Write(pa.info.U[:8])

	hashed := h.Sum(nil)

	block, err := aes.NewCipher(hashed[:32])
	if err != nil {
		return nil, err
	}
	if len(pa.info.UE)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid UE length: not full AES blocks")
	}
	ue := make([]byte, len(pa.info.UE))
	newECBDecrypter(block).CryptBlocks(ue, pa.info.UE)

	return ue[:32], nil
}

// authenticateOwnerR6 implements owner password authentication for R6.
func (pa *passwordAuth) authenticateOwnerR6(password string) ([]byte, error) {
	pw := toLatin1(password)

	var h hash.Hash
	if pa.info.KeyLength == 256 {
		h = sha512.New384()
	} else {
		h = sha512.New()
	}

	h.Write(pw)
	h.Write(pa.info.O[:8])
	h.Write(pa.info.UE)

	hashed := h.Sum(nil)

	block, err := aes.NewCipher(hashed[:32])
	if err != nil {
		return nil, err
	}
	if len(pa.info.OE)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid OE length: not full AES blocks")
	}
	oe := make([]byte, len(pa.info.OE))
	newECBDecrypter(block).CryptBlocks(oe, pa.info.OE)

	return oe[:32], nil
}

// validatePermissions checks /Perms against /P for V5 encryption,
// detecting a key derived from the wrong password that would
// otherwise decrypt garbage silently.
func (pa *passwordAuth) validatePermissions(key []byte) error {
	if pa.info.Revision < Revision5 {
		return nil
	}

	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return err
	}
	if len(pa.info.Perms)%aes.BlockSize != 0 {
		return fmt.Errorf("invalid Perms length: not full AES blocks")
	}
	perms := make([]byte, len(pa.info.Perms))
	newECBDecrypter(block).CryptBlocks(perms, pa.info.Perms)

	// Check padding (last 8 bytes should be 'sAlT' + 4 bytes of padding)
	if len(perms) < 16 || !bytes.HasSuffix(perms, []byte("sAlT")) {
		return fmt.Errorf("invalid permissions padding")
	}

	decryptedP := binary.BigEndian.Uint32(perms[:4])
	if decryptedP != pa.info.P {
		return fmt.Errorf("permissions validation failed")
	}

	return nil
}

// ecbDecrypter implements block-at-a-time ECB decryption, which the
// standard security handler uses only to unwrap /OE, /UE, and /Perms
// (each a single AES block or two, never stream content).
type ecbDecrypter struct {
	b cipher.Block
}

func newECBDecrypter(b cipher.Block) *ecbDecrypter {
	return &ecbDecrypter{b: b}
}

func (e *ecbDecrypter) CryptBlocks(dst, src []byte) {
	if len(dst) < len(src) {
		panic("dst too short")
	}
	if len(src)%e.b.BlockSize() != 0 {
		panic("input not full blocks")
	}
	for len(src) > 0 {
		e.b.Decrypt(dst[:e.b.BlockSize()], src[:e.b.BlockSize()])
		dst = dst[e.b.BlockSize():]
		src = src[e.b.BlockSize():]
	}
}

// SecurityHandler decrypts strings and streams once the document's
// encryption dictionary has been authenticated.
type SecurityHandler interface {
	DecryptString(data []byte, key ObjectKey) []byte
	DecryptStream(data []byte, key ObjectKey) []byte
	// IsEncryptionDict reports whether key identifies the trailer's
	// own /Encrypt dictionary, which is never itself encrypted.
	IsEncryptionDict(key ObjectKey) bool
}

// StandardSecurityHandler implements the PDF standard security
// handler (/Filter /Standard), revisions 2 through 6.
type StandardSecurityHandler struct {
	engine     *cryptoEngine
	auth       *passwordAuth
	info       *PDFEncryptionInfo
	encryptRef ObjectKey
	fileKey    []byte
}

// NewStandardSecurityHandler authenticates password against the
// Encrypt dictionary (as the user password first, then as the owner
// password) and returns a handler ready to decrypt strings/streams.
func NewStandardSecurityHandler(encrypt Dict, encryptRef ObjectKey, id Array, password string) (*StandardSecurityHandler, error) {
	if name, _ := encrypt["Filter"].(Name); name != "Standard" {
		return nil, fmt.Errorf("pdf: unsupported security handler %v", encrypt["Filter"])
	}

	info := &PDFEncryptionInfo{}
	length, _ := asInt64(encrypt["Length"])
	if length == 0 {
		length = 40
	}
	info.KeyLength = int(length)

	v, _ := asInt64(encrypt["V"])
	r, _ := asInt64(encrypt["R"])
	info.Version = EncryptionVersion(v)
	info.Revision = EncryptionRevision(r)

	if o, ok := encrypt["O"].(*String); ok {
		info.O = o.Bytes
	}
	if u, ok := encrypt["U"].(*String); ok {
		info.U = u.Bytes
	}
	if oe, ok := encrypt["OE"].(*String); ok {
		info.OE = oe.Bytes
	}
	if ue, ok := encrypt["UE"].(*String); ok {
		info.UE = ue.Bytes
	}
	if perms, ok := encrypt["Perms"].(*String); ok {
		info.Perms = perms.Bytes
	}
	p, _ := asInt64(encrypt["P"])
	info.P = uint32(p)

	if len(id) > 0 {
		if idstr, ok := id[0].(*String); ok {
			info.ID = idstr.Bytes
		}
	}

	info.Method = cryptMethodFor(encrypt, info)

	auth := newPasswordAuth(info)
	key, err := auth.authenticate(password)
	if err != nil {
		return nil, ErrInvalidPassword
	}

	if info.Revision >= Revision5 {
		if verr := auth.validatePermissions(key); verr != nil {
			return nil, verr
		}
	}

	engine := newCryptoEngine(info)
	engine.setKey(key)

	return &StandardSecurityHandler{
		engine: engine, auth: auth, info: info,
		encryptRef: encryptRef, fileKey: key,
	}, nil
}

// cryptMethodFor determines the crypt filter method from /V, /CF,
// /StmF, /StrF, matching the constraints the teacher's okayV4 imposed
// on V4 and extending them to V5 (AESV3, always used for R5/R6).
func cryptMethodFor(encrypt Dict, info *PDFEncryptionInfo) EncryptionMethod {
	if info.Revision >= Revision5 {
		return MethodAESV3
	}
	if info.Version != 4 {
		return MethodRC4
	}
	cf, ok := encrypt["CF"].(Dict)
	if !ok {
		return MethodRC4
	}
	stmf, _ := encrypt["StmF"].(Name)
	cfparam, ok := cf[stmf].(Dict)
	if !ok {
		return MethodRC4
	}
	if cfm, _ := cfparam["CFM"].(Name); cfm == "AESV2" {
		return MethodAESV2
	}
	return MethodRC4
}

func (h *StandardSecurityHandler) IsEncryptionDict(key ObjectKey) bool {
	return key == h.encryptRef
}

func (h *StandardSecurityHandler) DecryptString(data []byte, key ObjectKey) []byte {
	if h.info.Revision >= Revision5 {
		return decryptAESCBCWithFileKey(h.fileKey, data)
	}
	out, err := h.engine.decrypt(data, int(key.Num), int(key.Gen))
	if err != nil {
		return data
	}
	return out
}

func (h *StandardSecurityHandler) DecryptStream(data []byte, key ObjectKey) []byte {
	if h.info.Revision >= Revision5 {
		// AESV3 never salts with the object number/generation.
		return decryptAESCBCWithFileKey(h.fileKey, data)
	}
	out, err := h.engine.decrypt(data, int(key.Num), int(key.Gen))
	if err != nil {
		return data
	}
	return out
}

// decryptAESCBCWithFileKey handles the R5/R6 case where the 32-byte
// file key decrypts strings/streams directly, with no per-object key
// derivation (PDF 2.0, §7.6.2).
func decryptAESCBCWithFileKey(key, data []byte) []byte {
	if len(data) < 16 || len(key) < 32 {
		return data
	}
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return data
	}
	iv := data[:16]
	ct := data[16:]
	if len(ct)%16 != 0 {
		return data
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return unpadPKCS7Lenient(out)
}

func unpadPKCS7Lenient(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad <= 0 || pad > len(data) || pad > 16 {
		return data
	}
	return data[:len(data)-pad]
}
