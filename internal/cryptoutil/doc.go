// Package cryptoutil provides the digest and signature primitives used when
// publishing a packaged site.
//
// It supports:
//   - SHA-256 hashing of byte slices, readers and files
//   - Constant-time comparison of hex digests
//   - Detached KMS signatures over an archive digest (ECDSA P-256/P-384, RSA-PSS)
//     and local verification against the cached KMS public key
package cryptoutil
