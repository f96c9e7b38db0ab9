package infra

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
)

// Artifact identifies one build of the server deployment package
type Artifact struct {
	// Key is the content-addressed object key, server-<hash>.zip
	Key string
	// Sha256 is the base64 SHA-256 of the package, as Lambda reports it
	Sha256 string
	Size   int64
}

// NewArtifact hashes a deployment package
func NewArtifact(data []byte) Artifact {
	sum := sha256.Sum256(data)
	return Artifact{
		Key:    fmt.Sprintf("server-%s.zip", hex.EncodeToString(sum[:6])),
		Sha256: base64.StdEncoding.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	}
}

// ReadArtifact hashes the deployment package at file
func ReadArtifact(file string) (Artifact, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Artifact{}, fmt.Errorf("read server package: %w", err)
	}
	return NewArtifact(data), nil
}
