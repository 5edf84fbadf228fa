// Package cryptoutil provides the hashing and signing primitives behind
// tamper-evident audit exports.
//
// It supports:
//   - KMS-backed asymmetric signing of export digests
//   - SHA-256 hashing utilities, including streaming digests
//   - Constant-time hash comparison to prevent timing side-channels
package cryptoutil
