package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
	"github.com/oshokin/avb-guard/internal/service/common"
)

// DefaultBits is the key size used when none is requested.
const DefaultBits = 4096

// errKeyBits is returned for modulus sizes AVB has no algorithm for.
var errKeyBits = errors.New("key size must be 2048, 4096 or 8192 bits")

// Generate writes a new PKCS#1 PEM private key to path. An existing file is
// never overwritten: replacing the key changes the trust domain.
func Generate(ctx context.Context, path string, bits int) (*avb.TrustRoot, error) {
	switch bits {
	case 0:
		bits = DefaultBits
	case 2048, 4096, 8192:
	default:
		return nil, fmt.Errorf("%w: %d", errKeyBits, bits)
	}

	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return nil, fmt.Errorf("generate key: %w", err)
	}

	err = pem.Encode(f, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write key: %w", err)
	}

	root, err := avb.NewTrustRoot(key)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Trust key generated", "path", path, "bits", bits, "fingerprint", root.Fingerprint().String())

	return root, nil
}

// ExportOptions are inputs accepted by ExportPublicKey.
type ExportOptions struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Output receives the AVB public key blob.
	Output string
}

// ExportPublicKey writes the pinned key as an AVB public key blob, the
// format of "avbtool extract_public_key".
func ExportPublicKey(ctx context.Context, opts *ExportOptions) (*avb.TrustRoot, error) {
	ctx = logger.WithName(ctx, "keys")

	env, err := common.LoadEnv(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if err = imagefile.Write(opts.Output, env.Root.KeyBlob()); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Public key exported", "path", opts.Output, "fingerprint", env.Root.Fingerprint().String())

	return env.Root, nil
}
